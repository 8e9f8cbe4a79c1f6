// Package store persists resolved venue names, unique on reference.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/rankme/internal/model"
)

// ErrNotFound is returned by Find when no record has the reference.
var ErrNotFound = errors.New("venue record not found")

// VenueStore is the authoritative reference -> full name store.
// Save is an idempotent upsert keyed by reference.
type VenueStore interface {
	Find(ctx context.Context, reference string) (model.VenueRecord, error)
	Save(ctx context.Context, rec model.VenueRecord) error
	SaveBatch(ctx context.Context, recs []model.VenueRecord) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg model.StoreConfig) (VenueStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// prepare validates rec and fills the store-assigned fields.
func prepare(rec model.VenueRecord, now time.Time) (model.VenueRecord, error) {
	if rec.Reference == "" {
		return rec, errors.New("venue record without reference")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	return rec, nil
}
