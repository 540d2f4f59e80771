// Package push fans change notifications out to live client connections.
//
// Connections register a Sink, join and leave named topics, and receive
// every Message published to a topic they joined or to TopicAll. Delivery is
// fire-and-forget: each connection has its own queue inside the hub, so a
// slow or dead connection never holds up Publish or other connections, and
// successive messages reach a given connection in publish order.
package push

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/pubsub/v2"

	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/metrics"
)

// TopicAll addresses every connected client.
const TopicAll = "all"

// ScopeTopic returns the topic for a scope value such as a city name.
func ScopeTopic(scope string) string {
	return "scope:" + scope
}

var (
	ErrClosed              = errors.New("broadcaster is closed")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already subscribed")
)

// Message is a named event delivered to clients.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Sink is the outbound side of one client connection. Send must not block;
// a sink that cannot take a message returns an error and the message is
// dropped for that connection only.
type Sink interface {
	Send(msg Message) error
}

// Config holds the Broadcaster's collaborators.
type Config struct {
	Logger  *logging.Logger
	Metrics metrics.Collector
}

// Broadcaster is a topic based publish/subscribe fan-out.
type Broadcaster struct {
	hub     *pubsub.SimpleHub
	logger  *logging.Logger
	metrics metrics.Collector

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool
}

type connection struct {
	id   string
	sink Sink

	mu     sync.RWMutex
	topics map[string]struct{}

	unsubscribe func()
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(config Config) *Broadcaster {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent(logging.Component("push"))
	return &Broadcaster{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: logging.HubLogger{L: logger},
		}),
		logger:  logger,
		metrics: metrics.OrNoOp(config.Metrics),
		conns:   make(map[string]*connection),
	}
}

// NewConnectionID returns a fresh identifier for a client connection.
func NewConnectionID() string {
	return uuid.NewString()
}

// Subscribe registers a connection. It receives TopicAll messages right away
// and scoped messages once it joins their topics.
func (b *Broadcaster) Subscribe(connID string, sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.conns[connID]; ok {
		return ErrDuplicateConnection
	}

	c := &connection{
		id:     connID,
		sink:   sink,
		topics: make(map[string]struct{}),
	}
	c.unsubscribe = b.hub.SubscribeMatch(c.matches, func(topic string, data interface{}) {
		b.deliver(c, topic, data)
	})
	b.conns[connID] = c
	b.metrics.SetConnections(len(b.conns))
	b.logger.Debug("connection subscribed", slog.String("connection_id", connID))
	return nil
}

// Unsubscribe removes a connection. Messages still queued for it are
// discarded. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(connID string) {
	b.mu.Lock()
	c, ok := b.conns[connID]
	if ok {
		delete(b.conns, connID)
	}
	n := len(b.conns)
	b.mu.Unlock()

	if !ok {
		return
	}
	c.unsubscribe()
	b.metrics.SetConnections(n)
	b.logger.Debug("connection unsubscribed", slog.String("connection_id", connID))
}

// JoinTopic adds topic to the connection's subscriptions. Joining twice is a
// no-op.
func (b *Broadcaster) JoinTopic(connID, topic string) error {
	c, err := b.connection(connID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
	return nil
}

// LeaveTopic removes topic from the connection's subscriptions. Leaving a
// topic that was never joined is a no-op.
func (b *Broadcaster) LeaveTopic(connID, topic string) error {
	c, err := b.connection(connID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
	return nil
}

// Topics returns the sorted topics a connection has joined.
func (b *Broadcaster) Topics(connID string) ([]string, error) {
	c, err := b.connection(connID)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

// Connections returns the number of subscribed connections.
func (b *Broadcaster) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Publish queues msg for every connection subscribed to topic, or for every
// connection when topic is TopicAll. It does not wait for delivery.
// Per-connection delivery failures are logged, never returned.
func (b *Broadcaster) Publish(topic string, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	b.hub.Publish(topic, msg)
	b.metrics.RecordPublish(topic)
	return nil
}

// Close unsubscribes every connection. Further Subscribe and Publish calls
// return ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]*connection)
	b.closed = true
	b.mu.Unlock()

	for _, c := range conns {
		c.unsubscribe()
	}
	b.metrics.SetConnections(0)
}

func (b *Broadcaster) connection(connID string) (*connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return c, nil
}

func (b *Broadcaster) deliver(c *connection, topic string, data interface{}) {
	msg, ok := data.(Message)
	if !ok {
		b.logger.Error("unexpected payload on hub", slog.String("topic", topic))
		return
	}
	if err := c.sink.Send(msg); err != nil {
		b.metrics.RecordDrop()
		b.logger.Debug("push delivery dropped",
			slog.String("connection_id", c.id),
			slog.String("topic", topic),
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *connection) matches(topic string) bool {
	if topic == TopicAll {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}
