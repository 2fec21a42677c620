package core

import (
	"context"
	"time"

	"github.com/orrn/thermalspool/internal/db"
)

type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// BlankPrint is the body substituted by producers when a submission carries
// neither text nor an image.
const BlankPrint = "blank print"

type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// PrintJob is a single receipt. It is owned by the queue until drained and
// by the print routine after that; it is never re-enqueued.
type PrintJob struct {
	ID          string
	Name        string
	Text        string
	Image       *Attachment
	SubmittedBy string
	CreatedAt   time.Time
}

// JobPrinter prints one job to completion.
type JobPrinter interface {
	Print(ctx context.Context, job *PrintJob) error
}

// JobEvent is the outcome of one print attempt, as delivered to webhooks.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	SenderName   string    `json:"sender_name,omitempty"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ImageError   string    `json:"image_error,omitempty"`
	BytesSent    int       `json:"bytes_sent"`
	Transport    string    `json:"transport"`
	DurationMS   int64     `json:"duration_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

type WebhookSender interface {
	SendJobEvent(ev JobEvent)
	SendPrinterStatusChange(transport string, wasConnected, connected bool)
}

type HistoryStore interface {
	Record(ctx context.Context, r *db.PrintRecord) error
}
