package db

const (
	InsertPrintRecord = `
		INSERT INTO print_history (job_id, sender_name, has_text, has_image, image_filename, image_error, status, error_message, bytes_sent, transport, submitted_by, submitted_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	printRecordColumns = `id, job_id, sender_name, has_text, has_image, image_filename, image_error, status, error_message, bytes_sent, transport, submitted_by, submitted_at, finished_at, duration_ms`

	GetPrintRecordByJobID = `
		SELECT ` + printRecordColumns + `
		FROM print_history WHERE job_id = ?
	`

	ListPrintRecords = `
		SELECT ` + printRecordColumns + `
		FROM print_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	ListPrintRecordsByStatus = `
		SELECT ` + printRecordColumns + `
		FROM print_history WHERE status = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	ListPrintRecordsBefore = `
		SELECT ` + printRecordColumns + `
		FROM print_history WHERE finished_at < ?
		ORDER BY finished_at ASC
	`

	DeletePrintRecord = `
		DELETE FROM print_history WHERE id = ?
	`

	CountPrintRecordsByStatus = `
		SELECT status, COUNT(*) FROM print_history GROUP BY status
	`

	IncrementCompletedCounter = `
		INSERT INTO print_counters (date, completed, failed) VALUES (?, 1, 0)
		ON CONFLICT(date) DO UPDATE SET completed = completed + 1
	`

	IncrementFailedCounter = `
		INSERT INTO print_counters (date, completed, failed) VALUES (?, 0, 1)
		ON CONFLICT(date) DO UPDATE SET failed = failed + 1
	`

	GetPrintCountersByDateRange = `
		SELECT date, completed, failed FROM print_counters
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`

	InsertArchiveEntry = `
		INSERT INTO archive_log (archive_file, record_count, cutoff) VALUES (?, ?, ?)
	`

	ListArchiveEntries = `
		SELECT id, archive_file, record_count, cutoff, archived_at FROM archive_log
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`
)
