package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/c0deZ3R0/go-rental-sync/listings"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Page is one page of listings.
type Page struct {
	Items      []storage.Listing `json:"items"`
	TotalCount int               `json:"totalCount"`
	Skip       int               `json:"skip"`
	Limit      int               `json:"limit"`
	NextLink   string            `json:"nextLink,omitempty"`
}

func (s *Server) handleListApartments(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit := queryInt(r, "limit", defaultPageLimit)
	limit = min(max(limit, 1), maxPageLimit)

	items, total, err := s.config.Listings.List(r.Context(), skip, limit)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	if items == nil {
		items = []storage.Listing{}
	}
	page := Page{Items: items, TotalCount: total, Skip: skip, Limit: limit}
	if skip+limit < total {
		page.NextLink = nextLink(r, skip+limit, limit)
	}
	s.respondWithJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleGetApartment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	l, err := s.config.Listings.Get(r.Context(), id)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, l)
}

func (s *Server) handleCreateApartment(w http.ResponseWriter, r *http.Request) {
	who, ok := s.identify(w, r)
	if !ok {
		return
	}
	var in listings.CreateInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	l, err := s.config.Listings.Create(r.Context(), who, in)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/apartments/%d", l.ID))
	s.respondWithJSON(w, r, http.StatusCreated, l)
}

func (s *Server) handleUpdateApartment(w http.ResponseWriter, r *http.Request) {
	who, ok := s.identify(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var in listings.UpdateInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	if _, err := s.config.Listings.Update(r.Context(), who, id, in); err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteApartment(w http.ResponseWriter, r *http.Request) {
	who, ok := s.identify(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.config.Listings.Delete(r.Context(), who, id); err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// queryInt returns the integer query parameter name, or def when it is
// missing or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func nextLink(r *http.Request, skip, limit int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}
