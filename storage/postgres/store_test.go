package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

// getTestConnectionString returns the DSN from POSTGRES_TEST_CONNECTION.
func getTestConnectionString(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv("POSTGRES_TEST_CONNECTION")
	if connStr == "" {
		t.Skip("POSTGRES_TEST_CONNECTION not set")
	}
	return connStr
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(fmt.Errorf("boom")))
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
	_, err = New(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, &Config{
		ConnectionString: getTestConnectionString(t),
		Logger:           logging.Discard(),
		MaxOpenConns:     5,
		MaxIdleConns:     2,
	})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.DB().ExecContext(ctx, `TRUNCATE apartments RESTART IDENTITY`)
	require.NoError(t, err)

	l := &storage.Listing{
		Title:       "Loft",
		Price:       1200,
		City:        "Odesa",
		FullAddress: "Deribasivska 3",
		LessorID:    "u1",
		LessorEmail: "u1@example.com",
	}
	require.NoError(t, store.Create(ctx, l))
	assert.NotZero(t, l.ID)

	dup := *l
	dup.ID = 0
	assert.ErrorIs(t, store.Create(ctx, &dup), storage.ErrDuplicateAddress)

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Loft", got.Title)

	page, total, err := store.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, page, 1)

	stats, _, err := store.CityStats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Odesa", stats[0].City)

	require.NoError(t, store.Delete(ctx, l.ID))
	_, err = store.Get(ctx, l.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
