package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const counterDateFormat = "2006-01-02"

type rowScanner interface {
	Scan(dest ...any) error
}

// HistoryOperations reads and writes the print history. A nil DB uses the
// process-wide handle from Init.
type HistoryOperations struct {
	DB *sql.DB
}

func (o *HistoryOperations) conn() *sql.DB {
	if o.DB != nil {
		return o.DB
	}
	return GetDB()
}

// Record stores r and bumps the daily counter for its outcome in one transaction.
func (o *HistoryOperations) Record(ctx context.Context, r *PrintRecord) error {
	conn := o.conn()
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, InsertPrintRecord,
		r.JobID, r.SenderName, r.HasText, r.HasImage, r.ImageFilename, r.ImageError,
		r.Status, r.ErrorMessage, r.BytesSent, r.Transport, r.SubmittedBy,
		r.SubmittedAt.UTC(), r.FinishedAt.UTC(), r.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to insert print record: %w", err)
	}

	counterQuery := IncrementCompletedCounter
	if r.Status == StatusFailed {
		counterQuery = IncrementFailedCounter
	}
	if _, err := tx.ExecContext(ctx, counterQuery, r.FinishedAt.UTC().Format(counterDateFormat)); err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit print record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get print record id: %w", err)
	}
	r.ID = id
	return nil
}

func (o *HistoryOperations) GetByJobID(ctx context.Context, jobID string) (*PrintRecord, error) {
	r, err := scanPrintRecord(o.conn().QueryRowContext(ctx, GetPrintRecordByJobID, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get print record: %w", err)
	}
	return r, nil
}

func (o *HistoryOperations) List(ctx context.Context, filter HistoryFilter) ([]*PrintRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var rows *sql.Rows
	var err error
	if filter.Status != "" {
		rows, err = o.conn().QueryContext(ctx, ListPrintRecordsByStatus, filter.Status, filter.Limit, filter.Offset)
	} else {
		rows, err = o.conn().QueryContext(ctx, ListPrintRecords, filter.Limit, filter.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list print records: %w", err)
	}
	defer rows.Close()
	return scanPrintRecords(rows)
}

// ListBefore returns every record finished before cutoff, oldest first.
func (o *HistoryOperations) ListBefore(ctx context.Context, cutoff time.Time) ([]*PrintRecord, error) {
	rows, err := o.conn().QueryContext(ctx, ListPrintRecordsBefore, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list print records: %w", err)
	}
	defer rows.Close()
	return scanPrintRecords(rows)
}

func (o *HistoryOperations) Delete(ctx context.Context, ids []int64) error {
	tx, err := o.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, DeletePrintRecord, id); err != nil {
			return fmt.Errorf("failed to delete print record %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (o *HistoryOperations) Stats(ctx context.Context) (*HistoryStats, error) {
	rows, err := o.conn().QueryContext(ctx, CountPrintRecordsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count print records: %w", err)
	}
	defer rows.Close()

	stats := &HistoryStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.Total += count
		switch status {
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func scanPrintRecord(row rowScanner) (*PrintRecord, error) {
	r := &PrintRecord{}
	err := row.Scan(
		&r.ID, &r.JobID, &r.SenderName, &r.HasText, &r.HasImage, &r.ImageFilename, &r.ImageError,
		&r.Status, &r.ErrorMessage, &r.BytesSent, &r.Transport, &r.SubmittedBy,
		&r.SubmittedAt, &r.FinishedAt, &r.DurationMS)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanPrintRecords(rows *sql.Rows) ([]*PrintRecord, error) {
	var records []*PrintRecord
	for rows.Next() {
		r, err := scanPrintRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan print record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type CounterOperations struct {
	DB *sql.DB
}

func (o *CounterOperations) conn() *sql.DB {
	if o.DB != nil {
		return o.DB
	}
	return GetDB()
}

func (o *CounterOperations) GetCounters(ctx context.Context, from, to time.Time) ([]*PrintCounter, error) {
	rows, err := o.conn().QueryContext(ctx, GetPrintCountersByDateRange,
		from.UTC().Format(counterDateFormat), to.UTC().Format(counterDateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to get counters: %w", err)
	}
	defer rows.Close()

	var counters []*PrintCounter
	for rows.Next() {
		c := &PrintCounter{}
		if err := rows.Scan(&c.Date, &c.Completed, &c.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

type ArchiveOperations struct {
	DB *sql.DB
}

func (o *ArchiveOperations) conn() *sql.DB {
	if o.DB != nil {
		return o.DB
	}
	return GetDB()
}

func (o *ArchiveOperations) Create(ctx context.Context, e *ArchiveEntry) error {
	result, err := o.conn().ExecContext(ctx, InsertArchiveEntry, e.ArchiveFile, e.RecordCount, e.Cutoff.UTC())
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get archive entry id: %w", err)
	}
	e.ID = id
	return nil
}

func (o *ArchiveOperations) List(ctx context.Context, limit int) ([]*ArchiveEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.conn().QueryContext(ctx, ListArchiveEntries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive entries: %w", err)
	}
	defer rows.Close()

	var entries []*ArchiveEntry
	for rows.Next() {
		e := &ArchiveEntry{}
		if err := rows.Scan(&e.ID, &e.ArchiveFile, &e.RecordCount, &e.Cutoff, &e.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	History  = &HistoryOperations{}
	Counters = &CounterOperations{}
	Archive  = &ArchiveOperations{}
)
