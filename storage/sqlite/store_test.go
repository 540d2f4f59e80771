package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/storage"
	"github.com/c0deZ3R0/go-rental-sync/storage/sqlstore"
)

func setupTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "listings.db")
	store, err := New(context.Background(), &Config{
		DataSourceName: dsn,
		EnableWAL:      true,
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newListing(lessor, address, city string, price float64) *storage.Listing {
	return &storage.Listing{
		Title:       "Flat at " + address,
		Price:       price,
		City:        city,
		FullAddress: address,
		LessorID:    lessor,
		LessorEmail: lessor + "@example.com",
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	desc := "Sunny, two rooms"
	lat, lon := 50.45, 30.52
	l := newListing("u1", "Khreshchatyk 1", "Kyiv", 900)
	l.Description = &desc
	l.Latitude, l.Longitude = &lat, &lon

	require.NoError(t, store.Create(ctx, l))
	require.NotZero(t, l.ID)

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	got.Title = "Renovated flat"
	got.Latitude = nil
	require.NoError(t, store.Update(ctx, got))

	again, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renovated flat", again.Title)
	assert.Nil(t, again.Latitude)

	require.NoError(t, store.Delete(ctx, l.ID))
	_, err = store.Get(ctx, l.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, syncErrors.KindNotFound, syncErrors.KindOf(err))

	assert.ErrorIs(t, store.Delete(ctx, l.ID), storage.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, l), storage.ErrNotFound)
}

func TestDuplicateAddress(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.Create(ctx, newListing("u1", "Rynok 5", "Lviv", 500)))
	err := store.Create(ctx, newListing("u1", "Rynok 5", "Lviv", 600))
	assert.ErrorIs(t, err, storage.ErrDuplicateAddress)
	assert.Equal(t, syncErrors.KindConflict, syncErrors.KindOf(err))

	// Another lessor may list the same address.
	require.NoError(t, store.Create(ctx, newListing("u2", "Rynok 5", "Lviv", 600)))

	taken, err := store.AddressTaken(ctx, "u1", "Rynok 5", 0)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = store.AddressTaken(ctx, "u3", "Rynok 5", 0)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var ids []int64
	for i, addr := range []string{"a", "b", "c", "d", "e"} {
		l := newListing("u1", addr, "Kyiv", float64(100*(i+1)))
		require.NoError(t, store.Create(ctx, l))
		ids = append(ids, l.ID)
	}

	page, total, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	many, err := store.GetMany(ctx, []int64{ids[4], ids[0], 9999})
	require.NoError(t, err)
	assert.Len(t, many, 2)

	none, err := store.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCityStats(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.Create(ctx, newListing("u1", "k1", "Kyiv", 100)))
	require.NoError(t, store.Create(ctx, newListing("u1", "k2", "Kyiv", 300)))
	require.NoError(t, store.Create(ctx, newListing("u1", "l1", "Lviv", 50)))
	require.NoError(t, store.Create(ctx, newListing("u1", "x1", " ", 10)))

	stats, total, err := store.CityStats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, stats, 3)
	assert.Equal(t, storage.CityStat{City: "Kyiv", Count: 2, AvgPrice: 200}, stats[0])
	assert.ElementsMatch(t, []string{"Lviv", "Unknown"}, []string{stats[1].City, stats[2].City})
}

func TestClosedStore(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
}

func TestMemoryDataSource(t *testing.T) {
	store, err := New(context.Background(), &Config{DataSourceName: ":memory:", Logger: logging.Discard()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Create(context.Background(), newListing("u", "addr", "Dnipro", 1)))
	_, total, err := store.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestWithParam(t *testing.T) {
	assert.Equal(t, "file:x.db?_journal_mode=WAL", withParam("file:x.db", "_journal_mode=WAL"))
	assert.Equal(t, "file:x.db?a=1&b=2", withParam("file:x.db?a=1", "b=2"))
}
