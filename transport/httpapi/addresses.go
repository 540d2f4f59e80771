package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/c0deZ3R0/go-rental-sync/listings"
)

const (
	minSuggestQuery = 3
	maxSuggestions  = 5
)

// handleAddressSuggestions returns up to five geocoder matches for q. Short
// queries and geocoder failures yield an empty list.
func (s *Server) handleAddressSuggestions(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	suggestions := []listings.Place{}
	if utf8.RuneCountInString(q) < minSuggestQuery {
		s.respondWithJSON(w, r, http.StatusOK, suggestions)
		return
	}

	places, err := s.config.Geocoder.Lookup(r.Context(), q, maxSuggestions)
	if err != nil {
		s.logger.LogWarn(r.Context(), err, "address suggestions unavailable", slog.String("query", q))
	} else if len(places) > 0 {
		suggestions = places[:min(len(places), maxSuggestions)]
	}
	s.respondWithJSON(w, r, http.StatusOK, suggestions)
}
