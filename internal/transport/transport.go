// Package transport moves encoded command buffers to the printer.
//
// A Transport is a byte sink with an explicit connection lifecycle. Only the
// queue consumer (and the startup self-test, before the queue runs) touches a
// Transport, so implementations guard their handle with a mutex but do not
// expect contention.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNoDeviceFound = errors.New("no printer device found")
	ErrClaimFailed   = errors.New("failed to claim printer interface")
	ErrTransfer      = errors.New("usb transfer failed")
	ErrConnect       = errors.New("failed to connect to printer")
	ErrWrite         = errors.New("failed to write to printer")
	ErrSpooler       = errors.New("print spooler failed")
)

type Transport interface {
	// Open acquires the device handle. Calling Open on an open transport is a no-op.
	Open(ctx context.Context) error
	// Write sends data, opening the transport first if needed.
	Write(ctx context.Context, data []byte) error
	// Close releases the device handle. It is safe to call more than once.
	Close() error
	Name() string
}

// Connector is implemented by transports that hold a persistent handle.
type Connector interface {
	IsConnected() bool
}
