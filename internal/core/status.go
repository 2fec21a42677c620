package core

import (
	"sync"
	"time"
)

// Status tracks the printer as seen by the queue consumer. HTTP handlers read
// it concurrently through Snapshot.
type Status struct {
	mu          sync.RWMutex
	transport   string
	connected   bool
	lastPrintAt time.Time
	lastError   string
	printed     int64
	failed      int64
}

type StatusSnapshot struct {
	Transport   string     `json:"transport"`
	Connected   bool       `json:"connected"`
	LastPrintAt *time.Time `json:"last_print_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Printed     int64      `json:"printed"`
	Failed      int64      `json:"failed"`
}

func NewStatus(transport string) *Status {
	return &Status{transport: transport}
}

func (s *Status) RecordSuccess(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printed++
	s.lastPrintAt = at
	s.lastError = ""
}

func (s *Status) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.lastError = err.Error()
}

// SetConnected stores the connection state and returns the previous one.
func (s *Status) SetConnected(connected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.connected
	s.connected = connected
	return prev
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		Transport: s.transport,
		Connected: s.connected,
		LastError: s.lastError,
		Printed:   s.printed,
		Failed:    s.failed,
	}
	if !s.lastPrintAt.IsZero() {
		t := s.lastPrintAt
		snap.LastPrintAt = &t
	}
	return snap
}
