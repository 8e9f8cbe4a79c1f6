package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ppiankov/rankme/internal/model"
)

// SQLiteStore keeps venue records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database file at path and its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS venues (
		id TEXT NOT NULL,
		reference TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	return err
}

const sqliteUpsert = `INSERT INTO venues (id, reference, full_name, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(reference) DO UPDATE SET full_name = excluded.full_name`

func (s *SQLiteStore) Find(ctx context.Context, reference string) (model.VenueRecord, error) {
	var (
		rec     model.VenueRecord
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, reference, full_name, created_at FROM venues WHERE reference = ?`, reference,
	).Scan(&rec.ID, &rec.Reference, &rec.FullName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VenueRecord{}, ErrNotFound
	}
	if err != nil {
		return model.VenueRecord{}, fmt.Errorf("querying venue: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec model.VenueRecord) error {
	rec, err := prepare(rec, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsert,
		rec.ID, rec.Reference, rec.FullName, rec.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("saving venue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, recs []model.VenueRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range recs {
		rec, err := prepare(rec, now)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.Reference, rec.FullName, rec.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("saving venue %s: %w", rec.Reference, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM venues`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting venues: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
