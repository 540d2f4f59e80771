// Package httpapi exposes listings, search, statistics and the realtime
// endpoints over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/c0deZ3R0/go-rental-sync/changes"
	"github.com/c0deZ3R0/go-rental-sync/listings"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/push"
	"github.com/c0deZ3R0/go-rental-sync/search"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

// Coordinator is the long-poll state the realtime endpoints serve.
type Coordinator interface {
	Get() changes.State
	Advance() changes.State
	Reset() changes.State
	WaitForChange(ctx context.Context, since int64, timeout time.Duration) (changes.State, bool)
}

// Publisher hands messages to push clients.
type Publisher interface {
	Publish(topic string, msg push.Message) error
}

// Listings is the listing mutation service.
type Listings interface {
	Get(ctx context.Context, id int64) (*storage.Listing, error)
	List(ctx context.Context, skip, limit int) ([]storage.Listing, int, error)
	Create(ctx context.Context, who listings.Identity, in listings.CreateInput) (*storage.Listing, error)
	Update(ctx context.Context, who listings.Identity, id int64, in listings.UpdateInput) (*storage.Listing, error)
	Delete(ctx context.Context, who listings.Identity, id int64) error
}

// Reader is the read side of the primary store used by search and stats.
type Reader interface {
	GetMany(ctx context.Context, ids []int64) ([]storage.Listing, error)
	CityStats(ctx context.Context, top int) ([]storage.CityStat, int, error)
}

// Searcher queries the full-text index.
type Searcher interface {
	Search(ctx context.Context, query string, size int) ([]search.Document, error)
}

// Config holds the Server's collaborators. Coordinator and Publisher are
// required; routes whose collaborator is nil are not registered.
type Config struct {
	Coordinator Coordinator
	Publisher   Publisher
	Listings    Listings
	Reader      Reader
	Search      Searcher
	Geocoder    listings.Geocoder
	Auth        Authenticator
	Logger      *logging.Logger

	// DevEndpoints enables POST trigger and reset.
	DevEndpoints bool
	// DefaultTimeout is used when a long-poll omits timeoutMs.
	DefaultTimeout time.Duration

	WebSocket http.Handler
	Events    http.Handler
	Metrics   http.Handler
}

// Server routes API requests.
type Server struct {
	config  Config
	auth    Authenticator
	logger  *logging.Logger
	options *ServerOptions
	router  *mux.Router
}

// NewServer creates a Server.
func NewServer(config Config, opts ...ServerOption) (*Server, error) {
	if config.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = changes.DefaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	auth := config.Auth
	if auth == nil {
		auth = HeaderAuthenticator{}
	}

	s := &Server{
		config:  config,
		auth:    auth,
		logger:  logger.WithComponent(logging.Component("transport/httpapi")),
		options: applyServerOptions(opts...),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.respondWithError(w, req, http.StatusNotFound, "not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.respondWithError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	r := s.router
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notAllowed
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.config.Metrics != nil {
		r.Handle("/metrics", s.config.Metrics).Methods(http.MethodGet)
	}

	// Subrouters answer unmatched requests themselves.
	rt := r.PathPrefix("/api/realtime").Subrouter()
	rt.NotFoundHandler = notFound
	rt.MethodNotAllowedHandler = notAllowed
	rt.Use(noStore)
	rt.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	rt.HandleFunc("/longpoll", s.handleLongPoll).Methods(http.MethodGet)
	rt.HandleFunc("/trigger", s.handleTrigger).Methods(http.MethodPost)
	rt.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	if s.config.WebSocket != nil {
		rt.Handle("/ws", s.config.WebSocket).Methods(http.MethodGet)
	}
	if s.config.Events != nil {
		rt.Handle("/sse", s.config.Events).Methods(http.MethodGet)
	}

	if s.config.Listings != nil {
		r.HandleFunc("/api/apartments", s.handleListApartments).Methods(http.MethodGet)
		r.HandleFunc("/api/apartments", s.handleCreateApartment).Methods(http.MethodPost)
		r.HandleFunc("/api/apartments/{id:[0-9]+}", s.handleGetApartment).Methods(http.MethodGet)
		r.HandleFunc("/api/apartments/{id:[0-9]+}", s.handleUpdateApartment).Methods(http.MethodPut)
		r.HandleFunc("/api/apartments/{id:[0-9]+}", s.handleDeleteApartment).Methods(http.MethodDelete)
	}
	if s.config.Search != nil && s.config.Reader != nil {
		r.HandleFunc("/api/search", s.handleSearchGet).Methods(http.MethodGet)
		r.HandleFunc("/api/search", s.handleSearchPost).Methods(http.MethodPost)
	}
	if s.config.Geocoder != nil {
		r.HandleFunc("/api/addresses/search", s.handleAddressSuggestions).Methods(http.MethodGet)
	}
	if s.config.Reader != nil {
		r.HandleFunc("/api/stats/apartments", s.handleStats).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// noStore marks responses as uncacheable.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.DebugContext(r.Context(), "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// identify authenticates the request or writes a 401.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (listings.Identity, bool) {
	who, err := s.auth.Authenticate(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusUnauthorized, err.Error())
		return listings.Identity{}, false
	}
	return who, true
}
