package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/logger"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 20 * time.Second
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type NetworkOptions struct {
	// Address is host:port, usually port 9100.
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	KeepAlive      time.Duration
	// Dial overrides the TCP dialer.
	Dial DialFunc
}

// Network streams raw bytes over a persistent TCP socket.
type Network struct {
	mu   sync.Mutex
	opts NetworkOptions
	dial DialFunc
	conn net.Conn
}

func NewNetwork(opts NetworkOptions) *Network {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	dial := opts.Dial
	if dial == nil {
		d := &net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: opts.KeepAlive,
		}
		dial = d.DialContext
	}

	return &Network{opts: opts, dial: dial}
}

func (n *Network) Name() string {
	return "network"
}

func (n *Network) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

func (n *Network) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.connect(ctx)
	return err
}

func (n *Network) connect(ctx context.Context) (net.Conn, error) {
	if n.conn != nil {
		return n.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, n.opts.ConnectTimeout)
	defer cancel()

	conn, err := n.dial(dialCtx, "tcp", n.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, n.opts.Address, err)
	}

	logger.Info("Connected to network printer", zap.String("address", n.opts.Address))
	n.conn = conn
	return conn, nil
}

func (n *Network) disconnect() {
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

func (n *Network) reconnect(ctx context.Context) (net.Conn, error) {
	n.disconnect()
	return n.connect(ctx)
}

// Write sends data, connecting first when needed. A connection-reset class
// failure gets exactly one reconnect and retry.
func (n *Network) Write(ctx context.Context, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	conn, err := n.connect(ctx)
	if err != nil {
		return err
	}

	err = n.writeAll(ctx, conn, data)
	if err == nil {
		return nil
	}
	if !isConnReset(err) {
		n.disconnect()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	logger.Warn("Printer connection reset, reconnecting",
		zap.String("address", n.opts.Address),
		zap.Error(err))

	conn, err = n.reconnect(ctx)
	if err != nil {
		return err
	}
	if err := n.writeAll(ctx, conn, data); err != nil {
		n.disconnect()
		return fmt.Errorf("%w: after reconnect: %v", ErrWrite, err)
	}
	return nil
}

func (n *Network) writeAll(ctx context.Context, conn net.Conn, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(n.opts.WriteTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		written, err := conn.Write(data)
		if err != nil {
			return err
		}
		data = data[written:]
	}
	return nil
}

func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnect()
	return nil
}

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
