package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
)

func newTestIndex(t *testing.T) *FTSIndex {
	t.Helper()
	idx, err := OpenFTSIndex(context.Background(), "file:"+filepath.Join(t.TempDir(), "search.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func doc(id int64, title, email, city string) Document {
	return Document{ID: DocumentID(id), ApartmentID: id, Title: title, LessorEmail: email, City: city}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "apt-42", DocumentID(42))
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"cozy*" "loft*"`, matchExpression("  cozy   loft "))
	assert.Equal(t, `"evil*"`, matchExpression(`"evil"`))
	assert.Equal(t, "", matchExpression("   "))
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, doc(1, "Cozy loft near park", "anna@example.com", "Kyiv")))
	require.NoError(t, idx.Upsert(ctx, doc(2, "Spacious house", "bob@example.com", "Lviv")))

	hits, err := idx.Search(ctx, "loft", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc(1, "Cozy loft near park", "anna@example.com", "Kyiv"), hits[0])

	hits, err = idx.Search(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ApartmentID)

	// City is stored but not searchable.
	hits, err = idx.Search(ctx, "Lviv", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, doc(7, "Old title", "x@example.com", "")))
	require.NoError(t, idx.Upsert(ctx, doc(7, "New title", "x@example.com", "")))

	hits, err := idx.Search(ctx, "title", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "New title", hits[0].Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, doc(3, "Studio", "c@example.com", "")))
	require.NoError(t, idx.Delete(ctx, DocumentID(3)))
	require.NoError(t, idx.Delete(ctx, DocumentID(3)))

	hits, err := idx.Search(ctx, "studio", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSize(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	for i := int64(1); i <= 30; i++ {
		require.NoError(t, idx.Upsert(ctx, doc(i, "Flat", "owner@example.com", "")))
	}

	hits, err := idx.Search(ctx, "flat", 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultSize)
	assert.Equal(t, int64(30), hits[0].ApartmentID)

	hits, err = idx.Search(ctx, "flat", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 5)

	hits, err = idx.Search(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestClosedIndex(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	err := idx.Upsert(ctx, doc(1, "a", "b", ""))
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.ErrorIs(t, idx.Delete(ctx, "apt-1"), ErrClosed)
	_, err = idx.Search(ctx, "a", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUpsertRequiresID(t *testing.T) {
	err := newTestIndex(t).Upsert(context.Background(), Document{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidDoc)
	assert.Equal(t, syncErrors.KindInvalid, syncErrors.KindOf(err))
}
