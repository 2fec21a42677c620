package transport

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/logger"
)

type gousbBus struct {
	ctx *gousb.Context
}

func newGousbBus() (Bus, error) {
	return &gousbBus{ctx: gousb.NewContext()}, nil
}

func (b *gousbBus) Open(match func(DeviceDesc) bool) (Device, error) {
	found := false
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if found {
			return false
		}
		if match(convertDesc(desc)) {
			found = true
			return true
		}
		return false
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}
	if len(devs) == 0 {
		return nil, nil
	}

	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev := devs[0]
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Warn("USB kernel driver auto-detach unavailable", zap.Error(err))
	}
	return &gousbDevice{dev: dev, desc: convertDesc(dev.Desc)}, nil
}

func (b *gousbBus) Close() error {
	return b.ctx.Close()
}

func convertDesc(d *gousb.DeviceDesc) DeviceDesc {
	out := DeviceDesc{
		Vendor:  uint16(d.Vendor),
		Product: uint16(d.Product),
	}

	cfgNums := make([]int, 0, len(d.Configs))
	for n := range d.Configs {
		cfgNums = append(cfgNums, n)
	}
	sort.Ints(cfgNums)

	for _, n := range cfgNums {
		cfg := d.Configs[n]
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				var bulkOut []int
				for _, ep := range alt.Endpoints {
					if ep.Direction == gousb.EndpointDirectionOut && ep.TransferType == gousb.TransferTypeBulk {
						bulkOut = append(bulkOut, ep.Number)
					}
				}
				sort.Ints(bulkOut)
				out.Interfaces = append(out.Interfaces, InterfaceDesc{
					Config:    cfg.Number,
					Number:    alt.Number,
					Alternate: alt.Alternate,
					Class:     int(alt.Class),
					BulkOut:   bulkOut,
				})
			}
		}
	}
	return out
}

type gousbDevice struct {
	dev  *gousb.Device
	desc DeviceDesc
}

func (d *gousbDevice) Desc() DeviceDesc {
	return d.desc
}

func (d *gousbDevice) Claim(intf InterfaceDesc, endpoint int) (Endpoint, error) {
	cfg, err := d.dev.Config(intf.Config)
	if err != nil {
		return nil, fmt.Errorf("set config %d: %w", intf.Config, err)
	}
	i, err := cfg.Interface(intf.Number, intf.Alternate)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("claim interface %d alt %d: %w", intf.Number, intf.Alternate, err)
	}
	ep, err := i.OutEndpoint(endpoint)
	if err != nil {
		i.Close()
		cfg.Close()
		return nil, fmt.Errorf("out endpoint %d: %w", endpoint, err)
	}
	return &gousbEndpoint{cfg: cfg, intf: i, ep: ep}, nil
}

func (d *gousbDevice) Close() error {
	return d.dev.Close()
}

type gousbEndpoint struct {
	cfg  *gousb.Config
	intf *gousb.Interface
	ep   *gousb.OutEndpoint
}

func (e *gousbEndpoint) WriteContext(ctx context.Context, p []byte) (int, error) {
	return e.ep.WriteContext(ctx, p)
}

func (e *gousbEndpoint) Release() {
	e.intf.Close()
	if err := e.cfg.Close(); err != nil {
		logger.Debug("USB config release failed", zap.Error(err))
	}
}
