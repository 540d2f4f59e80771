// Package storage defines the primary listing store consumed by the
// mutation service. Implementations live in the sqlite and postgres
// subpackages.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("listing not found")
	ErrDuplicateAddress = errors.New("an apartment with the same address already exists")
	ErrStoreClosed      = errors.New("store is closed")
)

// Listing is an apartment offered for rent.
type Listing struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Price       float64  `json:"price"`
	City        string   `json:"city"`
	FullAddress string   `json:"fullAddress"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	LessorID    string   `json:"lessorId"`
	LessorEmail string   `json:"lessorEmail,omitempty"`
}

// CityStat aggregates listings per city.
type CityStat struct {
	City     string  `json:"city"`
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avgPrice"`
}

// Store is the primary, transactional listing store. A nil error from a
// mutating method means the write is durable.
type Store interface {
	// Create inserts l and sets l.ID. It returns ErrDuplicateAddress when the
	// lessor already has a listing at l.FullAddress.
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id int64) (*Listing, error)
	// Update overwrites the stored listing with l.ID.
	Update(ctx context.Context, l *Listing) error
	Delete(ctx context.Context, id int64) error
	// List returns a page ordered by id and the total number of listings.
	List(ctx context.Context, skip, limit int) ([]Listing, int, error)
	// GetMany returns the listings with the given ids in unspecified order.
	// Missing ids are skipped.
	GetMany(ctx context.Context, ids []int64) ([]Listing, error)
	// AddressTaken reports whether lessorID has a listing other than
	// excludeID at address.
	AddressTaken(ctx context.Context, lessorID, address string, excludeID int64) (bool, error)
	// CityStats returns the top cities by listing count and the total count.
	CityStats(ctx context.Context, top int) ([]CityStat, int, error)
	Close() error
}
