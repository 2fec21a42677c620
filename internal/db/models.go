package db

import (
	"time"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PrintRecord is one row of the print history log, written after every
// print attempt.
type PrintRecord struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	SenderName    string    `json:"sender_name,omitempty"`
	HasText       bool      `json:"has_text"`
	HasImage      bool      `json:"has_image"`
	ImageFilename string    `json:"image_filename,omitempty"`
	ImageError    string    `json:"image_error,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	BytesSent     int       `json:"bytes_sent"`
	Transport     string    `json:"transport"`
	SubmittedBy   string    `json:"submitted_by,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	FinishedAt    time.Time `json:"finished_at"`
	DurationMS    int64     `json:"duration_ms"`
}

type PrintCounter struct {
	Date      string `json:"date"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type HistoryStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type HistoryFilter struct {
	Status string
	Limit  int
	Offset int
}

type ArchiveEntry struct {
	ID          int64     `json:"id"`
	ArchiveFile string    `json:"archive_file"`
	RecordCount int       `json:"record_count"`
	Cutoff      time.Time `json:"cutoff"`
	ArchivedAt  time.Time `json:"archived_at"`
}
