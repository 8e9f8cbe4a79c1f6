package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rankme/internal/model"
)

func backends(t *testing.T) map[string]VenueStore {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "rankme.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]VenueStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestVenueStore_SaveFind(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Find(ctx, "db/conf/icse/icse2020.html")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, model.VenueRecord{
				Reference: "db/conf/icse/icse2020.html",
				FullName:  "International Conference on Software Engineering",
			}))

			rec, err := s.Find(ctx, "db/conf/icse/icse2020.html")
			require.NoError(t, err)
			assert.Equal(t, "International Conference on Software Engineering", rec.FullName)
			_, err = uuid.Parse(rec.ID)
			assert.NoError(t, err, "store assigns a uuid")
			assert.False(t, rec.CreatedAt.IsZero())
		})
	}
}

func TestVenueStore_UpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ref := "db/journals/tse/tse46.html"
			require.NoError(t, s.Save(ctx, model.VenueRecord{Reference: ref, FullName: "old"}))
			first, err := s.Find(ctx, ref)
			require.NoError(t, err)

			require.NoError(t, s.Save(ctx, model.VenueRecord{Reference: ref, FullName: "new"}))
			second, err := s.Find(ctx, ref)
			require.NoError(t, err)

			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, "new", second.FullName)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestVenueStore_SaveBatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveBatch(ctx, []model.VenueRecord{
				{Reference: "db/conf/a/a1.html", FullName: "A"},
				{Reference: "db/conf/b/b1.html", FullName: "B"},
				{Reference: "db/conf/a/a1.html", FullName: "A again"},
			}))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			rec, err := s.Find(ctx, "db/conf/a/a1.html")
			require.NoError(t, err)
			assert.Equal(t, "A again", rec.FullName)
		})
	}
}

func TestVenueStore_RejectsEmptyReference(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Save(ctx, model.VenueRecord{FullName: "x"}))
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, model.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, model.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, model.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
