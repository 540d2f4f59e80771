package listings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/propagation"
	"github.com/c0deZ3R0/go-rental-sync/storage"
	"github.com/c0deZ3R0/go-rental-sync/storage/sqlite"
)

type propagated struct {
	action       propagation.Action
	listing      storage.Listing
	previousCity string
	detached     bool
}

type recordingPropagator struct {
	mu    sync.Mutex
	calls []propagated
}

func (r *recordingPropagator) Propagate(ctx context.Context, action propagation.Action, l storage.Listing, previousCity string) propagation.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, propagated{action, l, previousCity, ctx.Done() == nil})
	return propagation.Outcome{}
}

type stubGeocoder struct {
	places []Place
	err    error
	calls  int
}

func (g *stubGeocoder) Lookup(_ context.Context, _ string, _ int) ([]Place, error) {
	g.calls++
	return g.places, g.err
}

var (
	owner    = Identity{UserID: "owner", Email: "owner@example.com"}
	stranger = Identity{UserID: "stranger", Email: "stranger@example.com"}
)

func setup(t *testing.T, geo Geocoder) (*Service, *recordingPropagator) {
	t.Helper()
	store, err := sqlite.New(context.Background(), &sqlite.Config{
		DataSourceName: "file:" + filepath.Join(t.TempDir(), "listings.db"),
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	prop := &recordingPropagator{}
	svc, err := NewService(Config{Store: store, Propagator: prop, Geocoder: geo, Logger: logging.Discard()})
	require.NoError(t, err)
	return svc, prop
}

func ptr[T any](v T) *T { return &v }

func completeInput(address string) CreateInput {
	return CreateInput{
		Title:       "Two-room flat",
		Price:       700,
		City:        "Kyiv",
		FullAddress: "  " + address + "  ",
		Latitude:    ptr(50.45),
		Longitude:   ptr(30.52),
	}
}

func TestCreatePropagates(t *testing.T) {
	svc, prop := setup(t, nil)

	l, err := svc.Create(context.Background(), owner, completeInput("Khreshchatyk 22"))
	require.NoError(t, err)
	assert.NotZero(t, l.ID)
	assert.Equal(t, "Khreshchatyk 22", l.FullAddress)
	assert.Equal(t, "owner", l.LessorID)
	assert.Equal(t, "owner@example.com", l.LessorEmail)

	require.Len(t, prop.calls, 1)
	assert.Equal(t, propagation.ActionCreated, prop.calls[0].action)
	assert.Equal(t, *l, prop.calls[0].listing)
}

func TestCreateDuplicateAddress(t *testing.T) {
	svc, prop := setup(t, nil)

	_, err := svc.Create(context.Background(), owner, completeInput("Rynok 1"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), owner, completeInput("Rynok 1"))
	assert.ErrorIs(t, err, storage.ErrDuplicateAddress)
	assert.Equal(t, syncErrors.KindConflict, syncErrors.KindOf(err))
	assert.Len(t, prop.calls, 1)
}

func TestCreateValidation(t *testing.T) {
	svc, prop := setup(t, nil)

	in := completeInput("x")
	in.Title = " "
	_, err := svc.Create(context.Background(), owner, in)
	assert.Equal(t, syncErrors.KindInvalid, syncErrors.KindOf(err))

	in = completeInput("x")
	in.Price = -1
	_, err = svc.Create(context.Background(), owner, in)
	assert.Equal(t, syncErrors.KindInvalid, syncErrors.KindOf(err))

	assert.Empty(t, prop.calls)
}

func TestCreateGeocodes(t *testing.T) {
	geo := &stubGeocoder{places: []Place{{Label: "Svobody Ave 5, Lviv", City: "Lviv", Latitude: 49.84, Longitude: 24.03}}}
	svc, _ := setup(t, geo)

	l, err := svc.Create(context.Background(), owner, CreateInput{Title: "Loft", Price: 500, FullAddress: "svobody 5"})
	require.NoError(t, err)
	assert.Equal(t, 1, geo.calls)
	assert.Equal(t, "Lviv", l.City)
	assert.Equal(t, "Svobody Ave 5, Lviv", l.FullAddress)
	require.NotNil(t, l.Latitude)
	assert.InDelta(t, 49.84, *l.Latitude, 1e-9)
}

func TestCreateUnresolvableAddress(t *testing.T) {
	cases := map[string]Geocoder{
		"no geocoder":   nil,
		"no match":      &stubGeocoder{},
		"lookup failed": &stubGeocoder{err: errors.New("timeout")},
	}
	for name, geo := range cases {
		t.Run(name, func(t *testing.T) {
			svc, prop := setup(t, geo)
			_, err := svc.Create(context.Background(), owner, CreateInput{Title: "Loft", Price: 1, FullAddress: "nowhere"})
			assert.ErrorIs(t, err, ErrUnresolvable)
			assert.Equal(t, syncErrors.KindInvalid, syncErrors.KindOf(err))
			assert.Empty(t, prop.calls)
		})
	}
}

func TestUpdate(t *testing.T) {
	svc, prop := setup(t, nil)
	ctx := context.Background()

	l, err := svc.Create(ctx, owner, completeInput("A 1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, completeInput("A 2"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, owner, l.ID, UpdateInput{Title: ptr("Penthouse"), Price: ptr(1500.0)})
	require.NoError(t, err)
	assert.Equal(t, "Penthouse", updated.Title)
	assert.Equal(t, 1500.0, updated.Price)
	assert.Equal(t, "A 1", updated.FullAddress)

	_, err = svc.Update(ctx, owner, l.ID, UpdateInput{FullAddress: ptr("A 2")})
	assert.ErrorIs(t, err, storage.ErrDuplicateAddress)

	// Keeping its own address is not a duplicate.
	_, err = svc.Update(ctx, owner, l.ID, UpdateInput{FullAddress: ptr(" A 1 ")})
	require.NoError(t, err)

	_, err = svc.Update(ctx, stranger, l.ID, UpdateInput{Title: ptr("Mine now")})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, syncErrors.KindForbidden, syncErrors.KindOf(err))

	_, err = svc.Update(ctx, owner, 999, UpdateInput{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var actions []propagation.Action
	for _, c := range prop.calls {
		actions = append(actions, c.action)
	}
	assert.Equal(t, []propagation.Action{
		propagation.ActionCreated, propagation.ActionCreated,
		propagation.ActionUpdated, propagation.ActionUpdated,
	}, actions)
}

func TestUpdateReportsPreviousCity(t *testing.T) {
	svc, prop := setup(t, nil)
	ctx := context.Background()

	l, err := svc.Create(ctx, owner, completeInput("C 1"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, owner, l.ID, UpdateInput{City: ptr("Lviv")})
	require.NoError(t, err)

	last := prop.calls[len(prop.calls)-1]
	assert.Equal(t, propagation.ActionUpdated, last.action)
	assert.Equal(t, "Lviv", last.listing.City)
	assert.Equal(t, l.City, last.previousCity)
}

func TestDelete(t *testing.T) {
	svc, prop := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	l, err := svc.Create(ctx, owner, completeInput("B 1"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, stranger, l.ID), ErrForbidden)

	cancel()
	// A cancelled request context still reaches the store check first.
	err = svc.Delete(ctx, owner, l.ID)
	require.Error(t, err)

	require.NoError(t, svc.Delete(context.Background(), owner, l.ID))
	_, err = svc.Get(context.Background(), l.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	last := prop.calls[len(prop.calls)-1]
	assert.Equal(t, propagation.ActionDeleted, last.action)
	assert.Equal(t, l.ID, last.listing.ID)
	assert.Equal(t, "Kyiv", last.listing.City)
}

func TestPropagationContextIsDetached(t *testing.T) {
	svc, prop := setup(t, nil)
	ctx := context.Background()

	l, err := svc.Create(ctx, owner, completeInput("C 1"))
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err = svc.Update(cctx, owner, l.ID, UpdateInput{Title: ptr("Renamed")})
	require.NoError(t, err)

	require.Len(t, prop.calls, 2)
	assert.True(t, prop.calls[1].detached)
}
