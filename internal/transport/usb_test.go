package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orrn/thermalspool/internal/escpos"
)

type fakeEndpoint struct {
	number   int
	writes   [][]byte
	failNext error
	released int
}

func (e *fakeEndpoint) WriteContext(ctx context.Context, p []byte) (int, error) {
	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil
		return 0, err
	}
	e.writes = append(e.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (e *fakeEndpoint) Release() {
	e.released++
}

type fakeDevice struct {
	desc      DeviceDesc
	failClaim map[int]bool
	claimed   []int
	endpoints []*fakeEndpoint
	closed    int
}

func (d *fakeDevice) Desc() DeviceDesc {
	return d.desc
}

func (d *fakeDevice) Claim(intf InterfaceDesc, endpoint int) (Endpoint, error) {
	d.claimed = append(d.claimed, intf.Number)
	if d.failClaim[intf.Number] {
		return nil, errors.New("resource busy")
	}
	ep := &fakeEndpoint{number: endpoint}
	d.endpoints = append(d.endpoints, ep)
	return ep, nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func (d *fakeDevice) lastEndpoint() *fakeEndpoint {
	if len(d.endpoints) == 0 {
		return nil
	}
	return d.endpoints[len(d.endpoints)-1]
}

type fakeBus struct {
	dev    *fakeDevice
	opened int
	closed bool
}

func (b *fakeBus) Open(match func(DeviceDesc) bool) (Device, error) {
	b.opened++
	if b.dev == nil || !match(b.dev.desc) {
		return nil, nil
	}
	return b.dev, nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func newTestUSB(bus *fakeBus, opts USBOptions) (*USB, *[]time.Duration) {
	u := NewUSBWithBus(opts, func() (Bus, error) { return bus, nil })
	var slept []time.Duration
	u.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return u, &slept
}

func printerAndVendorDevice() *fakeDevice {
	return &fakeDevice{
		desc: DeviceDesc{
			Vendor:  0x1234,
			Product: 0x0001,
			Interfaces: []InterfaceDesc{
				{Config: 1, Number: 0, Class: ClassPrinter, BulkOut: []int{1}},
				{Config: 1, Number: 1, Class: ClassVendorSpecific, BulkOut: []int{2, 3}},
			},
		},
	}
}

func TestUSBClaimsVendorSpecificFirst(t *testing.T) {
	dev := printerAndVendorDevice()
	u, _ := newTestUSB(&fakeBus{dev: dev}, USBOptions{})

	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(dev.claimed) != 1 || dev.claimed[0] != 1 {
		t.Fatalf("claim order: got=%v want=[1]", dev.claimed)
	}
	if ep := dev.lastEndpoint(); ep.number != 2 {
		t.Fatalf("endpoint: got=%d want=2", ep.number)
	}
	if !u.IsConnected() {
		t.Fatalf("expected connected after Open")
	}
}

func TestUSBClaimFallsBackInPriorityOrder(t *testing.T) {
	dev := printerAndVendorDevice()
	dev.failClaim = map[int]bool{1: true}
	u, _ := newTestUSB(&fakeBus{dev: dev}, USBOptions{})

	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if want := []int{1, 0}; len(dev.claimed) != 2 || dev.claimed[0] != want[0] || dev.claimed[1] != want[1] {
		t.Fatalf("claim order: got=%v want=%v", dev.claimed, want)
	}
}

func TestUSBClaimFailedAfterAllCandidates(t *testing.T) {
	dev := printerAndVendorDevice()
	dev.failClaim = map[int]bool{0: true, 1: true}
	u, _ := newTestUSB(&fakeBus{dev: dev}, USBOptions{})

	err := u.Open(context.Background())
	if !errors.Is(err, ErrClaimFailed) {
		t.Fatalf("got=%v want ErrClaimFailed", err)
	}
	if len(dev.claimed) != 2 {
		t.Fatalf("claims attempted: got=%d want=2", len(dev.claimed))
	}
	if dev.closed != 1 {
		t.Fatalf("device not closed after claim failure")
	}
}

func TestUSBDeviceQualification(t *testing.T) {
	tests := []struct {
		name string
		desc DeviceDesc
		want bool
	}{
		{"known vendor", DeviceDesc{Vendor: 0x04B8, Interfaces: []InterfaceDesc{{Class: 3}}}, true},
		{"printer class", DeviceDesc{Vendor: 0x9999, Interfaces: []InterfaceDesc{{Class: ClassPrinter}}}, true},
		{"vendor specific class", DeviceDesc{Vendor: 0x9999, Interfaces: []InterfaceDesc{{Class: 3}, {Class: ClassVendorSpecific}}}, true},
		{"keyboard", DeviceDesc{Vendor: 0x9999, Interfaces: []InterfaceDesc{{Class: 3}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := newTestUSB(&fakeBus{}, USBOptions{})
			if got := u.qualifies(tt.desc); got != tt.want {
				t.Fatalf("got=%v want=%v", got, tt.want)
			}
		})
	}

	u, _ := newTestUSB(&fakeBus{}, USBOptions{VendorIDs: []uint16{0x9999}})
	if !u.qualifies(DeviceDesc{Vendor: 0x9999}) {
		t.Fatalf("configured vendor id not honoured")
	}
}

func TestUSBNoDevice(t *testing.T) {
	bus := &fakeBus{dev: &fakeDevice{desc: DeviceDesc{Vendor: 0x9999, Interfaces: []InterfaceDesc{{Class: 3}}}}}
	u, _ := newTestUSB(bus, USBOptions{})

	if err := u.Write(context.Background(), []byte("x")); !errors.Is(err, ErrNoDeviceFound) {
		t.Fatalf("got=%v want ErrNoDeviceFound", err)
	}
}

func TestCandidatesOrder(t *testing.T) {
	desc := DeviceDesc{Interfaces: []InterfaceDesc{
		{Number: 0, Class: ClassPrinter, BulkOut: []int{1}},
		{Number: 1, Class: 3, BulkOut: []int{1}},
		{Number: 2, Class: ClassVendorSpecific},
		{Number: 3, Class: ClassVendorSpecific, BulkOut: []int{4}},
		{Number: 4, Class: 8, BulkOut: []int{1}},
	}}

	got := Candidates(desc)
	want := []int{3, 1, 4, 0}
	if len(got) != len(want) {
		t.Fatalf("candidates: got=%d want=%d", len(got), len(want))
	}
	for i, intf := range got {
		if intf.Number != want[i] {
			t.Fatalf("candidate %d: got=%d want=%d", i, intf.Number, want[i])
		}
	}
}

func TestUSBWriteChunksPerSegment(t *testing.T) {
	dev := printerAndVendorDevice()
	u, slept := newTestUSB(&fakeBus{dev: dev}, USBOptions{ChunkSize: 64, SettleDelay: 500 * time.Millisecond})

	bits := make([]byte, 10*20)
	data := escpos.NewEncoder().
		Text(string(bytes.Repeat([]byte("a"), 100))).
		RasterImage(bits, 80, 20).
		Text("tail").
		Build()

	if err := u.Write(context.Background(), data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ep := dev.lastEndpoint()
	var sizes []int
	for _, w := range ep.writes {
		sizes = append(sizes, len(w))
	}
	// 100 text bytes, 208 raster bytes, 4 tail bytes.
	want := []int{64, 36, 64, 64, 64, 16, 4}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes: got=%v want=%v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk sizes: got=%v want=%v", sizes, want)
		}
	}
	if !bytes.Equal(bytes.Join(ep.writes, nil), data) {
		t.Fatalf("written bytes differ from input")
	}
	if ep.writes[2][0] != escpos.GS || ep.writes[2][1] != 'v' {
		t.Fatalf("raster header does not start its own chunk")
	}
	if len(*slept) != 1 || (*slept)[0] != 500*time.Millisecond {
		t.Fatalf("settle delay: got=%v", *slept)
	}
}

func TestUSBTransferErrorClosesHandle(t *testing.T) {
	dev := printerAndVendorDevice()
	bus := &fakeBus{dev: dev}
	u, _ := newTestUSB(bus, USBOptions{})

	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev.lastEndpoint().failNext = errors.New("pipe stalled")

	err := u.Write(context.Background(), []byte("hello"))
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("got=%v want ErrTransfer", err)
	}
	if u.IsConnected() {
		t.Fatalf("handle still open after transfer error")
	}
	if dev.endpoints[0].released != 1 || dev.closed != 1 {
		t.Fatalf("endpoint released=%d device closed=%d", dev.endpoints[0].released, dev.closed)
	}

	if err := u.Write(context.Background(), []byte("again")); err != nil {
		t.Fatalf("Write after reconnect: %v", err)
	}
	if bus.opened != 2 {
		t.Fatalf("bus opens: got=%d want=2", bus.opened)
	}
}

func TestUSBCloseIdempotent(t *testing.T) {
	bus := &fakeBus{dev: printerAndVendorDevice()}
	u, _ := newTestUSB(bus, USBOptions{})
	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !bus.closed {
		t.Fatalf("bus not closed")
	}
}
