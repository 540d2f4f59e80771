package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/c0deZ3R0/go-rental-sync/search"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

const (
	defaultTake = search.DefaultSize
	maxTake     = 50
	topCities   = 10
)

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query       string `json:"query"`
	Skip        int    `json:"skip"`
	Take        int    `json:"take"`
	IncludeDocs bool   `json:"includeDocs"`
}

// SearchHit is a listing matched by a search.
type SearchHit struct {
	ApartmentID int64   `json:"apartmentId"`
	Title       string  `json:"title"`
	City        string  `json:"city"`
	Price       float64 `json:"price"`
	LessorEmail string  `json:"lessorEmail,omitempty"`
	URL         string  `json:"url"`
}

// SearchResult is the response of both search endpoints.
type SearchResult struct {
	Query     string            `json:"query"`
	TotalHits int               `json:"totalHits"`
	Skip      int               `json:"skip"`
	Take      int               `json:"take"`
	Items     []SearchHit       `json:"items"`
	Docs      []search.Document `json:"docs,omitempty"`
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	includeDocs, _ := strconv.ParseBool(r.URL.Query().Get("includeDocs"))
	s.search(w, r, SearchRequest{
		Query:       r.URL.Query().Get("q"),
		Skip:        queryInt(r, "skip", 0),
		Take:        queryInt(r, "take", defaultTake),
		IncludeDocs: includeDocs,
	})
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	s.search(w, r, req)
}

// search pages through at most search.DefaultSize index hits and hydrates
// them from the primary store in hit order. Hits whose listing is gone are
// dropped.
func (s *Server) search(w http.ResponseWriter, r *http.Request, req SearchRequest) {
	req.Query = strings.TrimSpace(req.Query)
	req.Skip = max(req.Skip, 0)
	if req.Take <= 0 {
		req.Take = defaultTake
	}
	req.Take = min(req.Take, maxTake)

	result := SearchResult{Query: req.Query, Skip: req.Skip, Take: req.Take, Items: []SearchHit{}}
	if req.Query == "" {
		s.respondWithJSON(w, r, http.StatusOK, result)
		return
	}

	docs, err := s.config.Search.Search(r.Context(), req.Query, search.DefaultSize)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	result.TotalHits = len(docs)
	if req.IncludeDocs {
		result.Docs = docs
	}

	start := min(req.Skip, len(docs))
	end := min(start+req.Take, len(docs))
	page := docs[start:end]
	if len(page) == 0 {
		s.respondWithJSON(w, r, http.StatusOK, result)
		return
	}

	ids := make([]int64, len(page))
	for i, d := range page {
		ids[i] = d.ApartmentID
	}
	found, err := s.config.Reader.GetMany(r.Context(), ids)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	byID := make(map[int64]storage.Listing, len(found))
	for _, l := range found {
		byID[l.ID] = l
	}
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			continue
		}
		result.Items = append(result.Items, SearchHit{
			ApartmentID: l.ID,
			Title:       l.Title,
			City:        l.City,
			Price:       l.Price,
			LessorEmail: l.LessorEmail,
			URL:         fmt.Sprintf("/api/apartments/%d", l.ID),
		})
	}
	s.respondWithJSON(w, r, http.StatusOK, result)
}

// Stats summarizes listings per city.
type Stats struct {
	TotalApartments int                `json:"totalApartments"`
	ByCity          []storage.CityStat `json:"byCity"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cities, total, err := s.config.Reader.CityStats(r.Context(), topCities)
	if err != nil {
		s.respondWithMappedError(w, r, err)
		return
	}
	stats := Stats{TotalApartments: total, ByCity: make([]storage.CityStat, 0, len(cities))}
	for _, c := range cities {
		c.AvgPrice = math.Round(c.AvgPrice)
		stats.ByCity = append(stats.ByCity, c)
	}
	s.respondWithJSON(w, r, http.StatusOK, stats)
}
