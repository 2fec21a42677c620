package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/logger"
)

// Archiver moves print history older than the retention window into monthly
// sqlite files and removes it from the live database.
type Archiver struct {
	history     *db.HistoryOperations
	archiveLog  *db.ArchiveOperations
	archivePath string
	archiveDays int
	interval    time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Month     string    `json:"month"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Interval    time.Duration
}

func NewArchiver(conn *sql.DB, config ArchiveConfig) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		history:     &db.HistoryOperations{DB: conn},
		archiveLog:  &db.ArchiveOperations{DB: conn},
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		interval:    config.Interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.runDailyArchive(ctx)
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) runDailyArchive(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.runLogged(ctx)

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	n, err := a.RunArchive(ctx)
	if err != nil {
		logger.Error("History archive failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("Archived print history", zap.Int("records", n))
	}
}

// RunArchive archives every record finished before the retention cutoff and
// returns how many were moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().AddDate(0, 0, -a.archiveDays)

	records, err := a.history.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get records for archival: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]*db.PrintRecord)
	var months []string
	for _, r := range records {
		month := r.FinishedAt.UTC().Format("2006_01")
		if _, ok := byMonth[month]; !ok {
			months = append(months, month)
		}
		byMonth[month] = append(byMonth[month], r)
	}

	for _, month := range months {
		batch := byMonth[month]
		filename := fmt.Sprintf("history_%s.db", month)

		if err := a.writeArchive(ctx, filepath.Join(a.archivePath, filename), batch); err != nil {
			return 0, fmt.Errorf("failed to write archive %s: %w", filename, err)
		}

		ids := make([]int64, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		if err := a.history.Delete(ctx, ids); err != nil {
			return 0, fmt.Errorf("failed to delete archived records: %w", err)
		}

		if err := a.archiveLog.Create(ctx, &db.ArchiveEntry{
			ArchiveFile: filename,
			RecordCount: len(batch),
			Cutoff:      cutoff,
		}); err != nil {
			return 0, fmt.Errorf("failed to record archive: %w", err)
		}
	}

	return len(records), nil
}

func (a *Archiver) writeArchive(ctx context.Context, path string, records []*db.PrintRecord) error {
	archiveDB, err := a.openOrCreateArchiveDB(path)
	if err != nil {
		return err
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO print_history (id, job_id, sender_name, has_text, has_image, image_filename, image_error, status, error_message, bytes_sent, transport, submitted_by, submitted_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.JobID, r.SenderName, r.HasText, r.HasImage, r.ImageFilename, r.ImageError,
			r.Status, r.ErrorMessage, r.BytesSent, r.Transport, r.SubmittedBy,
			r.SubmittedAt.UTC(), r.FinishedAt.UTC(), r.DurationMS); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record to archive: %w", err)
		}
	}

	return tx.Commit()
}

func (a *Archiver) openOrCreateArchiveDB(path string) (*sql.DB, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS print_history (
			id INTEGER PRIMARY KEY,
			job_id TEXT NOT NULL,
			sender_name TEXT,
			has_text BOOLEAN,
			has_image BOOLEAN,
			image_filename TEXT,
			image_error TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			bytes_sent INTEGER,
			transport TEXT,
			submitted_by TEXT,
			submitted_at DATETIME,
			finished_at DATETIME,
			duration_ms INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_archive_history_finished_at ON print_history(finished_at);
	`)
	if err != nil {
		archiveDB.Close()
		return nil, err
	}

	return archiveDB, nil
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "history_") || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archives = append(archives, &ArchiveFile{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Month:     strings.TrimSuffix(strings.TrimPrefix(name, "history_"), ".db"),
		})
	}

	return archives, nil
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}
