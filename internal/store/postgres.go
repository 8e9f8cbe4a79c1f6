package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/rankme/internal/model"
)

// PostgresStore keeps venue records in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the venues table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{db: pool}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS venues (
			id UUID NOT NULL,
			reference TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

const postgresUpsert = `
	INSERT INTO venues (id, reference, full_name, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (reference) DO UPDATE SET full_name = EXCLUDED.full_name
`

// Find retrieves a venue by reference
func (s *PostgresStore) Find(ctx context.Context, reference string) (model.VenueRecord, error) {
	query := `
		SELECT id::text, reference, full_name, created_at
		FROM venues
		WHERE reference = $1
	`

	var rec model.VenueRecord
	err := s.db.QueryRow(ctx, query, reference).Scan(
		&rec.ID,
		&rec.Reference,
		&rec.FullName,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.VenueRecord{}, ErrNotFound
		}
		return model.VenueRecord{}, err
	}
	return rec, nil
}

// Save inserts or updates a venue
func (s *PostgresStore) Save(ctx context.Context, rec model.VenueRecord) error {
	rec, err := prepare(rec, time.Now())
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, postgresUpsert, rec.ID, rec.Reference, rec.FullName, rec.CreatedAt)
	return err
}

// SaveBatch upserts recs in a single round trip
func (s *PostgresStore) SaveBatch(ctx context.Context, recs []model.VenueRecord) error {
	batch := &pgx.Batch{}
	now := time.Now()
	for _, rec := range recs {
		rec, err := prepare(rec, now)
		if err != nil {
			return err
		}
		batch.Queue(postgresUpsert, rec.ID, rec.Reference, rec.FullName, rec.CreatedAt)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM venues`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
