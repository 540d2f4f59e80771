// Package listings implements listing mutations. Every mutation that
// commits to the primary store is handed to the propagation layer.
package listings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/propagation"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

var (
	ErrForbidden    = errors.New("listing belongs to another lessor")
	ErrUnresolvable = errors.New("failed to resolve address; provide city, latitude and longitude")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Place is a geocoder match.
type Place struct {
	Label     string  `json:"label"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder resolves a free-form address. It returns at most limit places,
// best first.
type Geocoder interface {
	Lookup(ctx context.Context, address string, limit int) ([]Place, error)
}

// Propagator runs the side effects of a committed mutation.
type Propagator interface {
	Propagate(ctx context.Context, action propagation.Action, l storage.Listing, previousCity string) propagation.Outcome
}

// CreateInput holds the fields of a new listing.
type CreateInput struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Price       float64  `json:"price"`
	City        string   `json:"city"`
	FullAddress string   `json:"fullAddress"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// UpdateInput holds the fields to change. Nil fields are left as they are.
type UpdateInput struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	City        *string  `json:"city"`
	FullAddress *string  `json:"fullAddress"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Config holds the Service's collaborators. Geocoder is optional.
type Config struct {
	Store      storage.Store
	Propagator Propagator
	Geocoder   Geocoder
	Logger     *logging.Logger
}

// Service creates, updates and deletes listings.
type Service struct {
	store      storage.Store
	propagator Propagator
	geocoder   Geocoder
	logger     *logging.Logger
}

// NewService creates a Service.
func NewService(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Propagator == nil {
		return nil, fmt.Errorf("propagator is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:      config.Store,
		propagator: config.Propagator,
		geocoder:   config.Geocoder,
		logger:     logger.WithComponent(logging.Component("listings")),
	}, nil
}

// Get returns one listing.
func (s *Service) Get(ctx context.Context, id int64) (*storage.Listing, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of listings and the total count.
func (s *Service) List(ctx context.Context, skip, limit int) ([]storage.Listing, int, error) {
	return s.store.List(ctx, skip, limit)
}

// Create stores a new listing owned by who. Missing city or coordinates are
// filled in by the geocoder.
func (s *Service) Create(ctx context.Context, who Identity, in CreateInput) (*storage.Listing, error) {
	in.FullAddress = strings.TrimSpace(in.FullAddress)
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	taken, err := s.store.AddressTaken(ctx, who.UserID, in.FullAddress, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, syncErrors.E(syncErrors.OpCreate, syncErrors.Component("listings"), syncErrors.KindConflict, storage.ErrDuplicateAddress)
	}

	if strings.TrimSpace(in.City) == "" || in.Latitude == nil || in.Longitude == nil {
		if err := s.geocode(ctx, &in); err != nil {
			return nil, err
		}
	}

	l := &storage.Listing{
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		City:        in.City,
		FullAddress: in.FullAddress,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		LessorID:    who.UserID,
		LessorEmail: who.Email,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "listing created", slog.Int64("entity_id", l.ID), slog.String("lessor_id", who.UserID))
	s.propagate(ctx, propagation.ActionCreated, *l, "")
	return l, nil
}

// Update applies in to the listing with id. Only the owner may update it.
func (s *Service) Update(ctx context.Context, who Identity, id int64, in UpdateInput) (*storage.Listing, error) {
	l, err := s.owned(ctx, who, id, syncErrors.OpUpdate)
	if err != nil {
		return nil, err
	}
	previousCity := l.City

	if in.FullAddress != nil {
		address := strings.TrimSpace(*in.FullAddress)
		if address == "" {
			return nil, invalid(syncErrors.OpUpdate, "fullAddress must not be empty")
		}
		taken, err := s.store.AddressTaken(ctx, who.UserID, address, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, syncErrors.E(syncErrors.OpUpdate, syncErrors.Component("listings"), syncErrors.KindConflict, storage.ErrDuplicateAddress)
		}
		l.FullAddress = address
	}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, invalid(syncErrors.OpUpdate, "title must not be empty")
		}
		l.Title = *in.Title
	}
	if in.Description != nil {
		l.Description = in.Description
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return nil, invalid(syncErrors.OpUpdate, "price must not be negative")
		}
		l.Price = *in.Price
	}
	if in.City != nil {
		l.City = *in.City
	}
	if in.Latitude != nil {
		l.Latitude = in.Latitude
	}
	if in.Longitude != nil {
		l.Longitude = in.Longitude
	}

	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "listing updated", slog.Int64("entity_id", id))
	s.propagate(ctx, propagation.ActionUpdated, *l, previousCity)
	return l, nil
}

// Delete removes the listing with id. Only the owner may delete it.
func (s *Service) Delete(ctx context.Context, who Identity, id int64) error {
	l, err := s.owned(ctx, who, id, syncErrors.OpDelete)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "listing deleted", slog.Int64("entity_id", id))
	s.propagate(ctx, propagation.ActionDeleted, *l, "")
	return nil
}

func (s *Service) owned(ctx context.Context, who Identity, id int64, op syncErrors.Operation) (*storage.Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.LessorID != who.UserID {
		return nil, syncErrors.E(op, syncErrors.Component("listings"), syncErrors.KindForbidden, ErrForbidden)
	}
	return l, nil
}

// propagate detaches from the request context: the mutation has committed
// and its side effects should not be cut short by a client disconnect.
func (s *Service) propagate(ctx context.Context, action propagation.Action, l storage.Listing, previousCity string) {
	s.propagator.Propagate(context.WithoutCancel(ctx), action, l, previousCity)
}

func (s *Service) geocode(ctx context.Context, in *CreateInput) error {
	if in.FullAddress == "" {
		return invalid(syncErrors.OpCreate, "fullAddress is required when city, latitude or longitude are missing")
	}
	if s.geocoder == nil {
		return syncErrors.E(syncErrors.OpCreate, syncErrors.Component("listings"), syncErrors.KindInvalid, ErrUnresolvable)
	}
	places, err := s.geocoder.Lookup(ctx, in.FullAddress, 1)
	if err != nil {
		s.logger.LogWarn(ctx, err, "geocoding failed", slog.String("address", in.FullAddress))
		return syncErrors.E(syncErrors.OpCreate, syncErrors.Component("listings"), syncErrors.KindInvalid, ErrUnresolvable)
	}
	if len(places) == 0 {
		return syncErrors.E(syncErrors.OpCreate, syncErrors.Component("listings"), syncErrors.KindInvalid, ErrUnresolvable)
	}
	first := places[0]
	in.City = first.City
	in.Latitude = &first.Latitude
	in.Longitude = &first.Longitude
	if first.Label != "" {
		in.FullAddress = first.Label
	}
	return nil
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return invalid(syncErrors.OpCreate, "title is required")
	case in.Price < 0:
		return invalid(syncErrors.OpCreate, "price must not be negative")
	}
	return nil
}

func invalid(op syncErrors.Operation, msg string) error {
	return syncErrors.NewValidationError(op, errors.New(msg))
}
