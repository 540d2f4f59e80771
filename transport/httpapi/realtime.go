package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/c0deZ3R0/go-rental-sync/changes"
	"github.com/c0deZ3R0/go-rental-sync/push"
)

// EventStateChanged is pushed to every client when trigger or reset moves
// the version.
const EventStateChanged = "stateChanged"

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, r, http.StatusOK, s.config.Coordinator.Get())
}

// handleLongPoll answers 200 with the state as soon as its version exceeds
// since, or 204 once the timeout elapses.
func (s *Server) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since int64
	if v := query.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = n
	}

	timeout := s.config.DefaultTimeout
	if v := query.Get("timeoutMs"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "timeoutMs must be an integer")
			return
		}
		ms = min(max(ms, changes.MinTimeout.Milliseconds()), changes.MaxTimeout.Milliseconds())
		timeout = time.Duration(ms) * time.Millisecond
	}
	timeout = changes.ClampTimeout(timeout)

	state, changed := s.config.Coordinator.WaitForChange(r.Context(), since, timeout)
	if !changed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, state)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.devAllowed(w, r) {
		return
	}
	state := s.config.Coordinator.Advance()
	s.announce(r, state)
	s.respondWithJSON(w, r, http.StatusOK, state)
}

// handleReset sets the version back to zero. Clients holding a larger
// baseline will not observe changes until the version passes it again.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.devAllowed(w, r) {
		return
	}
	state := s.config.Coordinator.Reset()
	s.announce(r, state)
	s.respondWithJSON(w, r, http.StatusOK, state)
}

// devAllowed hides the dev endpoints unless enabled and requires an
// authenticated caller.
func (s *Server) devAllowed(w http.ResponseWriter, r *http.Request) bool {
	if !s.config.DevEndpoints {
		s.respondWithError(w, r, http.StatusNotFound, "not found")
		return false
	}
	_, ok := s.identify(w, r)
	return ok
}

func (s *Server) announce(r *http.Request, state changes.State) {
	err := s.config.Publisher.Publish(push.TopicAll, push.Message{Event: EventStateChanged, Payload: state})
	if err != nil {
		s.logger.LogWarn(r.Context(), err, "state change not pushed")
	}
}
