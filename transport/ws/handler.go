// Package ws serves push messages over websockets. Clients send
// {"op":"join","topic":"scope:Kyiv"} or {"op":"leave",...} to manage
// their topics and receive every message as {"event":...,"payload":...}.
package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/push"
)

const (
	writeWait      = 10 * time.Second
	pongDelay      = 90 * time.Second
	pingPeriod     = (pongDelay * 9) / 10
	maxMessageSize = 4096
)

// Client-to-server operations.
const (
	OpJoin  = "join"
	OpLeave = "leave"
)

// Server-to-client control events.
const (
	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventError     = "error"
)

var errStopped = errors.New("websocket handler stopped")

// Broker is the push fan-out the handler registers connections with.
type Broker interface {
	Subscribe(connID string, sink push.Sink) error
	Unsubscribe(connID string)
	JoinTopic(connID, topic string) error
	LeaveTopic(connID, topic string) error
}

// Request is a message sent by the client.
type Request struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
}

// Config holds the Handler's collaborators.
type Config struct {
	Broker Broker
	Logger *logging.Logger
	// QueueSize bounds the messages waiting to be written to one client.
	QueueSize int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades requests to websockets and bridges them to the Broker.
type Handler struct {
	broker    Broker
	logger    *logging.Logger
	queueSize int
	upgrader  websocket.Upgrader

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHandler creates a Handler.
func NewHandler(config Config) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		broker:    config.Broker,
		logger:    logger.WithComponent(logging.Component("transport/ws")),
		queueSize: config.QueueSize,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		stop:      make(chan struct{}),
	}
}

// Close disconnects every client served by h.
func (h *Handler) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Debug("problem initiating websocket", slog.String("error", err.Error()))
		return
	}

	c := &conn{
		id:      push.NewConnectionID(),
		socket:  socket,
		queue:   push.NewQueue(h.queueSize),
		handler: h,
	}
	if err := c.run(); err != nil {
		h.logger.Debug("websocket closed",
			slog.String("connection_id", c.id),
			slog.String("error", err.Error()),
		)
	}
}

type conn struct {
	tomb    tomb.Tomb
	id      string
	socket  *websocket.Conn
	queue   *push.Queue
	handler *Handler
}

func (c *conn) run() error {
	defer c.socket.Close()

	_ = c.queue.Send(push.Message{Event: EventConnected, Payload: map[string]string{"connectionId": c.id}})
	if err := c.handler.broker.Subscribe(c.id, c.queue); err != nil {
		c.writeClose(websocket.CloseTryAgainLater, err.Error())
		return err
	}
	defer func() {
		c.handler.broker.Unsubscribe(c.id)
		c.queue.Close()
	}()

	c.tomb.Go(c.readLoop)
	c.tomb.Go(c.writeLoop)
	return c.tomb.Wait()
}

// readLoop applies client requests. It returns when the socket fails or is
// closed by writeLoop.
func (c *conn) readLoop() error {
	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongDelay))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongDelay))
		return nil
	})

	for {
		var req Request
		if err := c.socket.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.tomb.Kill(nil)
				return nil
			}
			select {
			case <-c.tomb.Dying():
				return nil
			default:
			}
			return err
		}
		c.apply(req)
	}
}

func (c *conn) apply(req Request) {
	var err error
	var event string
	switch {
	case req.Topic == "":
		err = errors.New("topic is required")
	case req.Op == OpJoin:
		event = EventJoined
		err = c.handler.broker.JoinTopic(c.id, req.Topic)
	case req.Op == OpLeave:
		event = EventLeft
		err = c.handler.broker.LeaveTopic(c.id, req.Topic)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		_ = c.queue.Send(push.Message{Event: EventError, Payload: map[string]string{"op": req.Op, "error": err.Error()}})
		return
	}
	_ = c.queue.Send(push.Message{Event: event, Payload: map[string]string{"topic": req.Topic}})
}

// writeLoop is the only writer on the socket.
func (c *conn) writeLoop() error {
	defer c.socket.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.tomb.Dying():
			c.writeClose(websocket.CloseNormalClosure, "")
			return tomb.ErrDying
		case <-c.handler.stop:
			c.writeClose(websocket.CloseGoingAway, "server shutting down")
			return errStopped
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case msg, ok := <-c.queue.C():
			if !ok {
				return nil
			}
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}

func (c *conn) writeClose(code int, text string) {
	_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
