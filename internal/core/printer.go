package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/logger"
	"github.com/orrn/thermalspool/internal/transport"
)

var ErrJobTimeout = errors.New("print job timed out")

const DefaultWriteTimeout = 30 * time.Second

type PrinterOptions struct {
	WriteTimeout time.Duration
	// History and Webhooks are optional.
	History  HistoryStore
	Webhooks WebhookSender
}

// Printer runs one job through the composer and the transport. It owns the
// transport for the lifetime of the process.
type Printer struct {
	composer     *Composer
	transport    transport.Transport
	history      HistoryStore
	webhooks     WebhookSender
	status       *Status
	writeTimeout time.Duration
}

func NewPrinter(composer *Composer, t transport.Transport, opts PrinterOptions) *Printer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Printer{
		composer:     composer,
		transport:    t,
		history:      opts.History,
		webhooks:     opts.Webhooks,
		status:       NewStatus(t.Name()),
		writeTimeout: opts.WriteTimeout,
	}
}

func (p *Printer) Status() *Status {
	return p.status
}

// Print composes and sends job. Image problems are annotated on the receipt;
// only compose and transport faults are returned.
func (p *Printer) Print(ctx context.Context, job *PrintJob) error {
	start := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = start
	}

	comp, err := p.composer.Compose(ctx, job)
	bytesSent := 0
	if err == nil {
		err = p.send(ctx, comp.Data)
		if err == nil {
			bytesSent = len(comp.Data)
		}
	}

	p.finish(ctx, job, comp, bytesSent, start, err)
	return err
}

// PrintNow prints job immediately, bypassing the queue. It must only be used
// before the queue consumer starts.
func (p *Printer) PrintNow(ctx context.Context, job *PrintJob) error {
	if err := p.Print(ctx, job); err != nil {
		return fmt.Errorf("immediate print failed: %w", err)
	}
	return nil
}

func (p *Printer) send(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err := p.transport.Open(wctx)
	if err == nil {
		err = p.transport.Write(wctx, data)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(wctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", ErrJobTimeout, context.DeadlineExceeded, err)
	}
	return err
}

func (p *Printer) finish(ctx context.Context, job *PrintJob, comp *Composition, bytesSent int, start time.Time, err error) {
	finished := time.Now()
	ev := JobEvent{
		JobID:      job.ID,
		SenderName: job.Name,
		Status:     JobStatusCompleted,
		BytesSent:  bytesSent,
		Transport:  p.transport.Name(),
		DurationMS: finished.Sub(start).Milliseconds(),
		FinishedAt: finished,
	}
	if comp != nil && comp.ImageErr != nil {
		ev.ImageError = comp.ImageErr.Error()
	}

	if err != nil {
		ev.Status = JobStatusFailed
		ev.ErrorMessage = err.Error()
		p.status.RecordFailure(err)
	} else {
		p.status.RecordSuccess(finished)
		logger.Info("Job printed",
			zap.String("job_id", job.ID),
			zap.Int("bytes", bytesSent),
			zap.Int64("duration_ms", ev.DurationMS))
	}

	p.updateConnected(err)

	if p.history != nil {
		if herr := p.history.Record(ctx, recordFor(job, ev)); herr != nil {
			logger.Warn("Failed to record print history",
				zap.String("job_id", job.ID),
				zap.Error(herr))
		}
	}

	if p.webhooks != nil {
		p.webhooks.SendJobEvent(ev)
	}
}

func (p *Printer) updateConnected(err error) {
	connected := err == nil
	if c, ok := p.transport.(transport.Connector); ok {
		connected = c.IsConnected()
	}
	prev := p.status.SetConnected(connected)
	if prev == connected {
		return
	}

	logger.Info("Printer connection changed",
		zap.String("transport", p.transport.Name()),
		zap.Bool("connected", connected))
	if p.webhooks != nil {
		p.webhooks.SendPrinterStatusChange(p.transport.Name(), prev, connected)
	}
}

func recordFor(job *PrintJob, ev JobEvent) *db.PrintRecord {
	r := &db.PrintRecord{
		JobID:        job.ID,
		SenderName:   job.Name,
		HasText:      job.Text != "",
		HasImage:     job.Image != nil,
		ImageError:   ev.ImageError,
		Status:       string(ev.Status),
		ErrorMessage: ev.ErrorMessage,
		BytesSent:    ev.BytesSent,
		Transport:    ev.Transport,
		SubmittedBy:  job.SubmittedBy,
		SubmittedAt:  job.CreatedAt,
		FinishedAt:   ev.FinishedAt,
		DurationMS:   ev.DurationMS,
	}
	if job.Image != nil {
		r.ImageFilename = job.Image.Filename
	}
	return r
}

// Close releases the transport.
func (p *Printer) Close() error {
	return p.transport.Close()
}

// TestJob builds the receipt used by the startup self-test and the test-print
// endpoint.
func TestJob(submittedBy string) *PrintJob {
	return &PrintJob{
		Name:        "thermalspool",
		Text:        "printer test\n" + time.Now().Format("2006-01-02 15:04:05"),
		SubmittedBy: submittedBy,
	}
}
