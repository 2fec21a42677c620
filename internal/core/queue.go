package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/logger"
)

const DefaultInterval = 8 * time.Second

// Queue is an unbounded FIFO of print jobs drained by a single consumer, one
// job per tick. Producers may call Enqueue from any goroutine.
type Queue struct {
	printer  JobPrinter
	interval time.Duration

	mu      sync.Mutex
	jobs    []*PrintJob
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewQueue(printer JobPrinter, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Queue{
		printer:  printer,
		interval: interval,
	}
}

// Enqueue appends job and returns its 1-based position in the queue.
func (q *Queue) Enqueue(job *PrintJob) int {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	pos := len(q.jobs)
	q.mu.Unlock()

	logger.Debug("Job enqueued",
		zap.String("job_id", job.ID),
		zap.Int("position", pos))
	return pos
}

// DrainOne removes and returns the head of the queue, or nil when empty.
func (q *Queue) DrainOne() *PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	q.wg.Add(1)
	go q.consume(ctx)
}

// Stop halts the consumer and waits for the in-flight job, if any.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) consume(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.runOnce(ctx)
		}
	}
}

// runOnce prints at most one job. It reports whether a job was drained.
func (q *Queue) runOnce(ctx context.Context) bool {
	job := q.DrainOne()
	if job == nil {
		return false
	}

	if err := q.printer.Print(ctx, job); err != nil {
		logger.Error("Print job failed",
			zap.String("job_id", job.ID),
			zap.Int("pending", q.Len()),
			zap.Error(err))
	}
	return true
}
