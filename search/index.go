// Package search maintains the secondary full-text index over listings.
package search

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// DefaultSize is the number of hits returned when no size is given.
const DefaultSize = 20

var (
	ErrClosed     = errors.New("search index is closed")
	ErrInvalidDoc = errors.New("search document id is required")
)

// Document is the indexed projection of a listing.
type Document struct {
	ID          string `json:"id"`
	ApartmentID int64  `json:"apartmentId"`
	Title       string `json:"title"`
	LessorEmail string `json:"lessorEmail"`
	City        string `json:"city,omitempty"`
}

// DocumentID returns the index document id for a listing id.
func DocumentID(apartmentID int64) string {
	return "apt-" + strconv.FormatInt(apartmentID, 10)
}

// Index is a full-text index keyed by document id. Upsert and Delete are
// idempotent.
type Index interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, docID string) error
	// Search matches query against title and lessor email and returns at
	// most size hits, best first. A size <= 0 means DefaultSize.
	Search(ctx context.Context, query string, size int) ([]Document, error)
}

// matchExpression turns free text into an FTS4 MATCH expression: every
// word becomes a quoted prefix term and all terms must match.
func matchExpression(query string) string {
	var terms []string
	for _, word := range strings.Fields(query) {
		word = strings.ReplaceAll(word, `"`, "")
		if word == "" {
			continue
		}
		terms = append(terms, `"`+word+`*"`)
	}
	return strings.Join(terms, " ")
}
