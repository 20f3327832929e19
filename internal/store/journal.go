package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Download records one attachment written to the local store.
type Download struct {
	ID           string    `db:"id"`
	UID          uint32    `db:"uid"`
	Mailbox      string    `db:"mailbox"`
	Title        string    `db:"title"`
	Filename     string    `db:"filename"`
	Path         string    `db:"path"`
	Encoding     string    `db:"encoding"`
	Size         int64     `db:"size"`
	DownloadedAt time.Time `db:"downloaded_at"`
}

// Journal is an append-only log of downloads. It is an audit trail; the
// pipeline never reads it to decide what to fetch.
type Journal struct {
	db *sqlx.DB
}

// OpenJournal opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases alive across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (j *Journal) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := j.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = j.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordDownload appends d to the journal, filling in ID and
// DownloadedAt when unset, and returns the stored record.
func (j *Journal) RecordDownload(ctx context.Context, d Download) (Download, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DownloadedAt.IsZero() {
		d.DownloadedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO downloads (
			id, uid, mailbox, title, filename, path,
			encoding, size, downloaded_at
		) VALUES (
			:id, :uid, :mailbox, :title, :filename, :path,
			:encoding, :size, :downloaded_at
		)`

	if _, err := j.db.NamedExecContext(ctx, query, d); err != nil {
		return d, fmt.Errorf("recording download of %s: %w", d.Filename, err)
	}
	return d, nil
}

// RecentDownloads returns up to limit records, newest first.
func (j *Journal) RecentDownloads(ctx context.Context, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 50
	}

	var downloads []Download
	err := j.db.SelectContext(ctx, &downloads, `
		SELECT id, uid, mailbox, title, filename, path,
		       encoding, size, downloaded_at
		FROM downloads
		ORDER BY downloaded_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}
	return downloads, nil
}
