// Package sqlstore implements storage.Store over database/sql. Driver
// specifics (schema, placeholders, constraint errors) come from a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdSync "sync"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Name is used as the error component, e.g. "storage/sqlite".
	Name string
	// Schema is executed once when the store is opened.
	Schema string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool
}

// Store implements storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger

	mu     stdSync.RWMutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

const listingColumns = `id, title, description, price, city, full_address, latitude, longitude, lessor_id, lessor_email`

// New wraps an open database and applies the dialect's schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.WithComponent(logging.Component(dialect.Name)),
	}
	if _, err := db.ExecContext(ctx, dialect.Schema); err != nil {
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}
	s.logger.InfoContext(ctx, "listing store initialized")
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) q(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

func (s *Store) wrap(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return syncErrors.E(syncErrors.Operation(op), syncErrors.Component(s.dialect.Name), syncErrors.KindNotFound, err)
	case errors.Is(err, storage.ErrDuplicateAddress):
		return syncErrors.E(syncErrors.Operation(op), syncErrors.Component(s.dialect.Name), syncErrors.KindConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	e := syncErrors.NewStorageError(syncErrors.Operation(op), err)
	e.Component = s.dialect.Name
	return e
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, l *storage.Listing) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := s.q(`INSERT INTO apartments (title, description, price, city, full_address, latitude, longitude, lessor_id, lessor_email)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		l.Title, nullString(l.Description), l.Price, l.City, l.FullAddress,
		nullFloat(l.Latitude), nullFloat(l.Longitude), l.LessorID, l.LessorEmail,
	).Scan(&l.ID)
	if err != nil && s.dialect.IsUniqueViolation(err) {
		err = storage.ErrDuplicateAddress
	}
	return s.wrap(err, "create")
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, id int64) (*storage.Listing, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+listingColumns+` FROM apartments WHERE id = ?`), id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = storage.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap(err, "get")
	}
	return l, nil
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, l *storage.Listing) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := s.q(`UPDATE apartments SET title = ?, description = ?, price = ?, city = ?, full_address = ?,
		latitude = ?, longitude = ?, lessor_id = ?, lessor_email = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		l.Title, nullString(l.Description), l.Price, l.City, l.FullAddress,
		nullFloat(l.Latitude), nullFloat(l.Longitude), l.LessorID, l.LessorEmail, l.ID,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			err = storage.ErrDuplicateAddress
		}
		return s.wrap(err, "update")
	}
	return s.wrap(expectOneRow(res), "update")
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM apartments WHERE id = ?`), id)
	if err != nil {
		return s.wrap(err, "delete")
	}
	return s.wrap(expectOneRow(res), "delete")
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, skip, limit int) ([]storage.Listing, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM apartments`).Scan(&total); err != nil {
		return nil, 0, s.wrap(err, "list")
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+listingColumns+` FROM apartments ORDER BY id LIMIT ? OFFSET ?`), limit, skip)
	if err != nil {
		return nil, 0, s.wrap(err, "list")
	}
	listings, err := scanListings(rows)
	if err != nil {
		return nil, 0, s.wrap(err, "list")
	}
	return listings, total, nil
}

// GetMany implements storage.Store.
func (s *Store) GetMany(ctx context.Context, ids []int64) ([]storage.Listing, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+listingColumns+` FROM apartments WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, s.wrap(err, "get_many")
	}
	listings, err := scanListings(rows)
	return listings, s.wrap(err, "get_many")
}

// AddressTaken implements storage.Store.
func (s *Store) AddressTaken(ctx context.Context, lessorID, address string, excludeID int64) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM apartments WHERE lessor_id = ? AND full_address = ? AND id <> ?`),
		lessorID, address, excludeID,
	).Scan(&n)
	if err != nil {
		return false, s.wrap(err, "address_taken")
	}
	return n > 0, nil
}

// CityStats implements storage.Store.
func (s *Store) CityStats(ctx context.Context, top int) ([]storage.CityStat, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM apartments`).Scan(&total); err != nil {
		return nil, 0, s.wrap(err, "city_stats")
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT city_name, COUNT(*) AS n, AVG(price)
		FROM (
			SELECT CASE WHEN TRIM(city) = '' THEN 'Unknown' ELSE city END AS city_name, price
			FROM apartments
		) AS c
		GROUP BY city_name
		ORDER BY n DESC, city_name
		LIMIT ?`), top)
	if err != nil {
		return nil, 0, s.wrap(err, "city_stats")
	}
	defer rows.Close()

	var stats []storage.CityStat
	for rows.Next() {
		var st storage.CityStat
		if err := rows.Scan(&st.City, &st.Count, &st.AvgPrice); err != nil {
			return nil, 0, s.wrap(err, "city_stats")
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap(err, "city_stats")
	}
	return stats, total, nil
}

// Close closes the database. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing listing store", slog.String("dialect", s.dialect.Name))
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row scanner) (*storage.Listing, error) {
	var (
		l           storage.Listing
		description sql.NullString
		lat, lon    sql.NullFloat64
	)
	err := row.Scan(&l.ID, &l.Title, &description, &l.Price, &l.City, &l.FullAddress,
		&lat, &lon, &l.LessorID, &l.LessorEmail)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		l.Description = &description.String
	}
	if lat.Valid {
		l.Latitude = &lat.Float64
	}
	if lon.Valid {
		l.Longitude = &lon.Float64
	}
	return &l, nil
}

func scanListings(rows *sql.Rows) ([]storage.Listing, error) {
	defer rows.Close()
	var listings []storage.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
