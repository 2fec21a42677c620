package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/transport"
)

type fakeTransport struct {
	writes   [][]byte
	opens    int
	writeErr error
	block    bool
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.opens++
	return nil
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error { return nil }
func (f *fakeTransport) Name() string { return "fake" }

type fakeHistory struct {
	records []*db.PrintRecord
}

func (h *fakeHistory) Record(ctx context.Context, r *db.PrintRecord) error {
	h.records = append(h.records, r)
	return nil
}

type statusChange struct {
	was, now bool
}

type fakeWebhooks struct {
	mu      sync.Mutex
	events  []JobEvent
	changes []statusChange
}

func (w *fakeWebhooks) SendJobEvent(ev JobEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
}

func (w *fakeWebhooks) SendPrinterStatusChange(transport string, wasConnected, connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, statusChange{wasConnected, connected})
}

func newTestPrinter(tr transport.Transport, timeout time.Duration) (*Printer, *fakeHistory, *fakeWebhooks) {
	h := &fakeHistory{}
	w := &fakeWebhooks{}
	p := NewPrinter(testComposer(nil), tr, PrinterOptions{
		WriteTimeout: timeout,
		History:      h,
		Webhooks:     w,
	})
	return p, h, w
}

func TestPrintSuccess(t *testing.T) {
	tr := &fakeTransport{}
	p, h, w := newTestPrinter(tr, time.Second)

	job := &PrintJob{ID: "job-1", Name: "Ann", Text: "Hi", SubmittedBy: "10.0.0.2"}
	if err := p.Print(context.Background(), job); err != nil {
		t.Fatalf("Print: %v", err)
	}

	if len(tr.writes) != 1 || !bytes.HasPrefix(tr.writes[0], []byte{0x1B, '@'}) {
		t.Fatalf("transport writes: got=%d", len(tr.writes))
	}

	if len(h.records) != 1 {
		t.Fatalf("history records: got=%d want=1", len(h.records))
	}
	r := h.records[0]
	if r.JobID != "job-1" || r.Status != db.StatusCompleted || r.BytesSent != len(tr.writes[0]) || r.Transport != "fake" {
		t.Fatalf("history record: got=%+v", r)
	}
	if !r.HasText || r.HasImage || r.SubmittedBy != "10.0.0.2" {
		t.Fatalf("history flags: got=%+v", r)
	}

	if len(w.events) != 1 || w.events[0].Status != JobStatusCompleted {
		t.Fatalf("webhook events: got=%+v", w.events)
	}
	if len(w.changes) != 1 || w.changes[0] != (statusChange{false, true}) {
		t.Fatalf("status changes: got=%+v", w.changes)
	}

	snap := p.Status().Snapshot()
	if !snap.Connected || snap.Printed != 1 || snap.Failed != 0 || snap.LastPrintAt == nil {
		t.Fatalf("status: got=%+v", snap)
	}
}

func TestPrintTransportFailure(t *testing.T) {
	tr := &fakeTransport{writeErr: transport.ErrNoDeviceFound}
	p, h, w := newTestPrinter(tr, time.Second)

	err := p.Print(context.Background(), &PrintJob{ID: "job-2", Text: "x"})
	if !errors.Is(err, transport.ErrNoDeviceFound) {
		t.Fatalf("Print: got=%v want ErrNoDeviceFound", err)
	}

	if len(h.records) != 1 || h.records[0].Status != db.StatusFailed || h.records[0].BytesSent != 0 {
		t.Fatalf("history: got=%+v", h.records)
	}
	if len(w.events) != 1 || w.events[0].Status != JobStatusFailed || w.events[0].ErrorMessage == "" {
		t.Fatalf("webhook events: got=%+v", w.events)
	}
	if len(w.changes) != 0 {
		t.Fatalf("no connection change expected: got=%+v", w.changes)
	}

	snap := p.Status().Snapshot()
	if snap.Connected || snap.Failed != 1 || snap.LastError == "" {
		t.Fatalf("status: got=%+v", snap)
	}
}

func TestPrintTimeout(t *testing.T) {
	tr := &fakeTransport{block: true}
	p, _, _ := newTestPrinter(tr, 20*time.Millisecond)

	start := time.Now()
	err := p.Print(context.Background(), &PrintJob{ID: "stall", Text: "x"})
	if !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("Print: got=%v want ErrJobTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Print: got=%v want DeadlineExceeded in chain", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestPrintImageFailureStillPrints(t *testing.T) {
	tr := &fakeTransport{}
	p, h, _ := newTestPrinter(tr, time.Second)

	job := &PrintJob{
		ID:    "img",
		Text:  "caption",
		Image: &Attachment{Filename: "bad.png", MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
	}
	if err := p.Print(context.Background(), job); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if len(tr.writes) != 1 || !bytes.Contains(tr.writes[0], []byte("caption\n")) {
		t.Fatalf("text not written")
	}
	r := h.records[0]
	if r.Status != db.StatusCompleted || r.ImageError == "" || r.ImageFilename != "bad.png" {
		t.Fatalf("history: got=%+v", r)
	}
}

func TestPrintNowWrapsError(t *testing.T) {
	tr := &fakeTransport{writeErr: transport.ErrClaimFailed}
	p, _, _ := newTestPrinter(tr, time.Second)

	err := p.PrintNow(context.Background(), TestJob("self-test"))
	if !errors.Is(err, transport.ErrClaimFailed) {
		t.Fatalf("PrintNow: got=%v want ErrClaimFailed", err)
	}
}

func TestPrintAssignsMissingID(t *testing.T) {
	p, h, _ := newTestPrinter(&fakeTransport{}, time.Second)
	for i := 0; i < 2; i++ {
		if err := p.Print(context.Background(), TestJob("")); err != nil {
			t.Fatalf("Print: %v", err)
		}
	}
	if h.records[0].JobID == "" || h.records[0].JobID == h.records[1].JobID {
		t.Fatalf("job ids: %q %q", h.records[0].JobID, h.records[1].JobID)
	}
}
