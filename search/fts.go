package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	stdSync "sync"

	_ "github.com/mattn/go-sqlite3"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
)

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS apartment_docs USING fts4(
    doc_id,
    apartment_id,
    title,
    lessor_email,
    city,
    notindexed=doc_id,
    notindexed=apartment_id,
    notindexed=city
);
`

// FTSIndex is an Index backed by an SQLite FTS4 virtual table.
type FTSIndex struct {
	db     *sql.DB
	owned  bool
	logger *logging.Logger

	mu     stdSync.RWMutex
	closed bool
}

var _ Index = (*FTSIndex)(nil)

// NewFTSIndex creates the index table in db. The caller keeps ownership
// of db.
func NewFTSIndex(ctx context.Context, db *sql.DB, logger *logging.Logger) (*FTSIndex, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if _, err := db.ExecContext(ctx, ftsSchema); err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &FTSIndex{
		db:     db,
		logger: logger.WithComponent(logging.Component("search")),
	}, nil
}

// OpenFTSIndex opens a dedicated SQLite database for the index.
func OpenFTSIndex(ctx context.Context, dataSourceName string, logger *logging.Logger) (*FTSIndex, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open search database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to search database: %w", err)
	}
	idx, err := NewFTSIndex(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.owned = true
	return idx, nil
}

func (x *FTSIndex) checkOpen() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrClosed
	}
	return nil
}

// Upsert replaces the document with doc.ID.
func (x *FTSIndex) Upsert(ctx context.Context, doc Document) (err error) {
	if doc.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpIndexUpsert, ErrInvalidDoc)
	}
	if err := x.checkOpen(); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexUpsert, err)
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexUpsert, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM apartment_docs WHERE doc_id = ?`, doc.ID); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexUpsert, err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO apartment_docs (doc_id, apartment_id, title, lessor_email, city) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.ApartmentID, doc.Title, doc.LessorEmail, doc.City,
	); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexUpsert, err)
	}
	if err = tx.Commit(); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexUpsert, err)
	}

	x.logger.Debug("document indexed", slog.String("doc_id", doc.ID))
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (x *FTSIndex) Delete(ctx context.Context, docID string) error {
	if err := x.checkOpen(); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexDelete, err)
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM apartment_docs WHERE doc_id = ?`, docID); err != nil {
		return syncErrors.NewIndexError(syncErrors.OpIndexDelete, err)
	}
	x.logger.Debug("document removed", slog.String("doc_id", docID))
	return nil
}

// Search implements Index. An empty query matches nothing.
func (x *FTSIndex) Search(ctx context.Context, query string, size int) ([]Document, error) {
	if err := x.checkOpen(); err != nil {
		return nil, syncErrors.NewIndexError(syncErrors.OpSearch, err)
	}
	expr := matchExpression(query)
	if expr == "" {
		return nil, nil
	}
	if size <= 0 {
		size = DefaultSize
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT doc_id, apartment_id, title, lessor_email, city
		FROM apartment_docs
		WHERE apartment_docs MATCH ?
		ORDER BY CAST(apartment_id AS INTEGER) DESC
		LIMIT ?`, expr, size)
	if err != nil {
		return nil, syncErrors.NewIndexError(syncErrors.OpSearch, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ApartmentID, &d.Title, &d.LessorEmail, &d.City); err != nil {
			return nil, syncErrors.NewIndexError(syncErrors.OpSearch, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewIndexError(syncErrors.OpSearch, err)
	}
	return docs, nil
}

// Close marks the index closed and closes the database if the index
// opened it.
func (x *FTSIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	if x.owned {
		return x.db.Close()
	}
	return nil
}
