// Package sse streams push messages to clients as server-sent events. The
// topics a stream receives are fixed by its query string:
// ?topic=scope:Kyiv&topic=... or the shorthand ?scope=Kyiv.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	kiterr "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/push"
)

// EventConnected is the first event of every stream.
const EventConnected = "connected"

// Broker is the push fan-out the server registers streams with.
type Broker interface {
	Subscribe(connID string, sink push.Sink) error
	Unsubscribe(connID string)
	JoinTopic(connID, topic string) error
}

type Server struct {
	Broker    Broker
	Logger    *logging.Logger
	QueueSize int
	// KeepAlive is the interval between comment lines that keep idle
	// proxies from closing the stream.
	KeepAlive time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer creates a new SSE server with default settings
func NewServer(broker Broker, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		Broker:    broker,
		Logger:    logger.WithComponent(logging.Component("transport/sse")),
		QueueSize: 64,
		KeepAlive: 25 * time.Second,
		stop:      make(chan struct{}),
	}
}

// Close ends every open stream.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		query := r.URL.Query()
		var topics []string
		for _, topic := range query["topic"] {
			if topic != "" {
				topics = append(topics, topic)
			}
		}
		for _, scope := range query["scope"] {
			if scope != "" {
				topics = append(topics, push.ScopeTopic(scope))
			}
		}

		id := push.NewConnectionID()
		queue := push.NewQueue(s.QueueSize)
		if err := s.Broker.Subscribe(id, queue); err != nil {
			e := kiterr.E(kiterr.Operation("sse.Handler"), kiterr.Component("transport/sse"), kiterr.KindUnavailable, err, "subscribe")
			s.Logger.LogWarn(r.Context(), e, "stream rejected")
			http.Error(w, "push unavailable", http.StatusServiceUnavailable)
			return
		}
		defer func() {
			s.Broker.Unsubscribe(id)
			queue.Close()
		}()
		for _, topic := range topics {
			if err := s.Broker.JoinTopic(id, topic); err != nil {
				http.Error(w, "push unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		hello := push.Message{Event: EventConnected, Payload: map[string]interface{}{"connectionId": id, "topics": topics}}
		if err := writeEvent(w, hello); err != nil {
			return
		}
		flusher.Flush()
		s.Logger.Debug("stream opened", slog.String("connection_id", id), slog.Int("topics", len(topics)))

		keepAlive := time.NewTicker(s.KeepAlive)
		defer keepAlive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-queue.C():
				if !ok {
					return
				}
				if err := writeEvent(w, msg); err != nil {
					s.Logger.Debug("stream write failed",
						slog.String("connection_id", id),
						slog.String("error", err.Error()),
					)
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, msg push.Message) error {
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, b)
	return err
}
