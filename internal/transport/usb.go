package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/escpos"
	"github.com/orrn/thermalspool/internal/logger"
)

const (
	ClassPrinter        = 0x07
	ClassVendorSpecific = 0xFF
)

// Vendors known to ship ESC/POS receipt printers.
var knownVendors = []uint16{
	0x04B8, // Seiko Epson
	0x0519, // Star Micronics
	0x1504, // Bixolon
	0x1D90, // Citizen
	0x154F, // SNBC
	0x0DD4, // Custom Engineering
	0x0FE6, // ICS Advent (Xprinter, Rongta OEM)
	0x0416, // Winbond (generic 58/80mm)
	0x0483, // STMicroelectronics (POS58)
	0x28E9, // GigaDevice (generic 80mm)
	0x20D1, // Rongta
}

// InterfaceDesc describes one alternate setting of one interface.
type InterfaceDesc struct {
	Config    int
	Number    int
	Alternate int
	Class     int
	// BulkOut lists bulk-OUT endpoint numbers in ascending order.
	BulkOut []int
}

type DeviceDesc struct {
	Vendor     uint16
	Product    uint16
	Interfaces []InterfaceDesc
}

func (d DeviceDesc) String() string {
	return fmt.Sprintf("%04x:%04x", d.Vendor, d.Product)
}

// Bus enumerates and opens USB devices.
type Bus interface {
	// Open returns the first device accepted by match, or nil if none is.
	Open(match func(DeviceDesc) bool) (Device, error)
	Close() error
}

type Device interface {
	Desc() DeviceDesc
	// Claim claims an interface setting and returns its OUT endpoint.
	Claim(intf InterfaceDesc, endpoint int) (Endpoint, error)
	Close() error
}

type Endpoint interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
	// Release gives the interface back to the device.
	Release()
}

type priorityRule struct {
	match    func(InterfaceDesc) bool
	priority int
}

// Lower priority is claimed first. The first matching rule wins. Vendor
// interfaces usually carry the raw channel; class 7 is often held by the OS
// printer driver.
var interfacePriorities = []priorityRule{
	{func(i InterfaceDesc) bool { return i.Class == ClassVendorSpecific }, 0},
	{func(i InterfaceDesc) bool { return i.Class != ClassPrinter }, 1},
	{func(i InterfaceDesc) bool { return i.Class == ClassPrinter }, 2},
}

func interfacePriority(i InterfaceDesc) int {
	for _, rule := range interfacePriorities {
		if rule.match(i) {
			return rule.priority
		}
	}
	return len(interfacePriorities)
}

// Candidates returns the interface settings with a bulk-OUT endpoint,
// ordered by claim priority. Ties keep descriptor order.
func Candidates(desc DeviceDesc) []InterfaceDesc {
	var out []InterfaceDesc
	for _, intf := range desc.Interfaces {
		if len(intf.BulkOut) > 0 {
			out = append(out, intf)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return interfacePriority(out[a]) < interfacePriority(out[b])
	})
	return out
}

type USBOptions struct {
	ChunkSize   int
	SettleDelay time.Duration
	// VendorIDs extends the built-in vendor allowlist.
	VendorIDs []uint16
}

type USB struct {
	mu      sync.Mutex
	newBus  func() (Bus, error)
	opts    USBOptions
	vendors map[uint16]bool

	bus Bus
	dev Device
	ep  Endpoint

	sleep func(ctx context.Context, d time.Duration) error
}

// NewUSB returns a USB transport on the libusb-backed bus.
func NewUSB(opts USBOptions) *USB {
	return NewUSBWithBus(opts, newGousbBus)
}

func NewUSBWithBus(opts USBOptions, newBus func() (Bus, error)) *USB {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 64
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}

	vendors := make(map[uint16]bool, len(knownVendors)+len(opts.VendorIDs))
	for _, v := range knownVendors {
		vendors[v] = true
	}
	for _, v := range opts.VendorIDs {
		vendors[v] = true
	}

	return &USB{
		newBus:  newBus,
		opts:    opts,
		vendors: vendors,
		sleep:   sleepContext,
	}
}

func (u *USB) Name() string {
	return "usb"
}

func (u *USB) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ep != nil
}

func (u *USB) qualifies(d DeviceDesc) bool {
	if u.vendors[d.Vendor] {
		return true
	}
	for _, intf := range d.Interfaces {
		if intf.Class == ClassPrinter || intf.Class == ClassVendorSpecific {
			return true
		}
	}
	return false
}

func (u *USB) Open(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.openLocked(ctx)
}

func (u *USB) openLocked(ctx context.Context) error {
	if u.ep != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if u.bus == nil {
		bus, err := u.newBus()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoDeviceFound, err)
		}
		u.bus = bus
	}

	dev, err := u.bus.Open(u.qualifies)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDeviceFound, err)
	}
	if dev == nil {
		return ErrNoDeviceFound
	}

	desc := dev.Desc()
	candidates := Candidates(desc)
	if len(candidates) == 0 {
		dev.Close()
		return fmt.Errorf("%w: device %s has no bulk-out endpoint", ErrClaimFailed, desc)
	}

	var lastErr error
	for _, intf := range candidates {
		epNum := intf.BulkOut[0]
		ep, err := dev.Claim(intf, epNum)
		if err != nil {
			lastErr = err
			logger.Debug("USB interface claim failed",
				zap.String("device", desc.String()),
				zap.Int("config", intf.Config),
				zap.Int("interface", intf.Number),
				zap.Int("class", intf.Class),
				zap.Error(err))
			continue
		}

		u.dev = dev
		u.ep = ep
		logger.Info("USB printer opened",
			zap.String("device", desc.String()),
			zap.Int("config", intf.Config),
			zap.Int("interface", intf.Number),
			zap.Int("alternate", intf.Alternate),
			zap.Int("class", intf.Class),
			zap.Int("endpoint", epNum))
		return nil
	}

	dev.Close()
	return fmt.Errorf("%w: %s: tried %d interfaces, last error: %v", ErrClaimFailed, desc, len(candidates), lastErr)
}

// Write sends data segment by segment, splitting around raster fragments,
// in ChunkSize transfers, then waits SettleDelay for the head to finish.
func (u *USB) Write(ctx context.Context, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked(ctx); err != nil {
		return err
	}

	for _, seg := range escpos.Segments(data) {
		if err := u.writeChunked(ctx, seg); err != nil {
			u.closeLocked()
			return fmt.Errorf("%w: %v", ErrTransfer, err)
		}
	}

	return u.sleep(ctx, u.opts.SettleDelay)
}

func (u *USB) writeChunked(ctx context.Context, seg []byte) error {
	for off := 0; off < len(seg); off += u.opts.ChunkSize {
		end := off + u.opts.ChunkSize
		if end > len(seg) {
			end = len(seg)
		}
		chunk := seg[off:end]
		n, err := u.ep.WriteContext(ctx, chunk)
		if err != nil {
			return err
		}
		if n != len(chunk) {
			return fmt.Errorf("short write: %d of %d bytes", n, len(chunk))
		}
	}
	return nil
}

func (u *USB) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closeLocked()
	if u.bus != nil {
		err := u.bus.Close()
		u.bus = nil
		return err
	}
	return nil
}

func (u *USB) closeLocked() {
	if u.ep != nil {
		u.ep.Release()
		u.ep = nil
	}
	if u.dev != nil {
		if err := u.dev.Close(); err != nil {
			logger.Warn("USB device close failed", zap.Error(err))
		}
		u.dev = nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
