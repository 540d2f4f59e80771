// Package propagation runs the best-effort side effects that follow a
// committed listing mutation: keeping the search index in sync and
// notifying live clients. Neither side effect can fail the mutation.
package propagation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c0deZ3R0/go-rental-sync/changes"
	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/metrics"
	"github.com/c0deZ3R0/go-rental-sync/push"
	"github.com/c0deZ3R0/go-rental-sync/search"
	"github.com/c0deZ3R0/go-rental-sync/storage"
)

// Action is the kind of committed mutation.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Push event names.
const (
	EventEntityChanged = "entityChanged"
	EventScopeChanged  = "scopeChanged"
)

// Step names used in logs and metrics.
const (
	StepIndex  = "index"
	StepNotify = "notify"
)

// ChangeEvent is the push payload describing one mutation.
type ChangeEvent struct {
	Action   Action `json:"action"`
	EntityID int64  `json:"entityId"`
	Scope    string `json:"scope,omitempty"`
	// PreviousScope is set when an update moved the entity out of another
	// scope.
	PreviousScope string `json:"previousScope,omitempty"`
}

// Indexer is the part of search.Index the orchestrator needs.
type Indexer interface {
	Upsert(ctx context.Context, doc search.Document) error
	Delete(ctx context.Context, docID string) error
}

// Publisher hands a message to live clients joined to topic.
type Publisher interface {
	Publish(topic string, msg push.Message) error
}

// Advancer releases long-poll waiters.
type Advancer interface {
	Advance() changes.State
}

// Config holds the orchestrator's collaborators. Index and Publisher are
// required. A nil Advancer means push-only delivery.
type Config struct {
	Index     Indexer
	Publisher Publisher
	Advancer  Advancer
	Logger    *logging.Logger
	Metrics   metrics.Collector
}

// Outcome reports what went wrong in each step. It is informational only.
type Outcome struct {
	IndexErr  error
	NotifyErr error
}

// OK reports whether both steps succeeded.
func (o Outcome) OK() bool {
	return o.IndexErr == nil && o.NotifyErr == nil
}

// Orchestrator propagates committed mutations. It is safe for concurrent use.
type Orchestrator struct {
	index     Indexer
	publisher Publisher
	advancer  Advancer
	logger    *logging.Logger
	metrics   metrics.Collector
}

// New creates an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		index:     config.Index,
		publisher: config.Publisher,
		advancer:  config.Advancer,
		logger:    logger.WithComponent(logging.Component("propagation")),
		metrics:   metrics.OrNoOp(config.Metrics),
	}, nil
}

// Propagate runs the index step and then the notify step for a committed
// mutation of l. For ActionDeleted, l is the listing as it was before the
// delete. For ActionUpdated, previousCity is the city before the update and
// may be empty otherwise. Both steps always run; failures are logged and
// returned in the Outcome but must not be treated as a failure of the
// mutation.
func (o *Orchestrator) Propagate(ctx context.Context, action Action, l storage.Listing, previousCity string) Outcome {
	event := ChangeEvent{Action: action, EntityID: l.ID, Scope: l.City}
	if action == ActionUpdated && previousCity != l.City {
		event.PreviousScope = previousCity
	}

	var out Outcome
	out.IndexErr = o.run(ctx, StepIndex, action, l.ID, func() error {
		return o.syncIndex(ctx, action, l)
	})
	out.NotifyErr = o.run(ctx, StepNotify, action, l.ID, func() error {
		return o.notify(event)
	})
	return out
}

func (o *Orchestrator) syncIndex(ctx context.Context, action Action, l storage.Listing) error {
	if action == ActionDeleted {
		return o.index.Delete(ctx, search.DocumentID(l.ID))
	}
	return o.index.Upsert(ctx, search.Document{
		ID:          search.DocumentID(l.ID),
		ApartmentID: l.ID,
		Title:       l.Title,
		LessorEmail: l.LessorEmail,
		City:        l.City,
	})
}

// notify publishes to every client, then to the scope topics, then advances
// the long-poll version. A publish failure does not skip the advance.
func (o *Orchestrator) notify(event ChangeEvent) error {
	var errs []error
	if err := o.publisher.Publish(push.TopicAll, push.Message{Event: EventEntityChanged, Payload: event}); err != nil {
		errs = append(errs, err)
	}
	for _, scope := range []string{event.Scope, event.PreviousScope} {
		if scope == "" {
			continue
		}
		if err := o.publisher.Publish(push.ScopeTopic(scope), push.Message{Event: EventScopeChanged, Payload: event}); err != nil {
			errs = append(errs, err)
		}
	}
	if o.advancer != nil {
		o.advancer.Advance()
	}
	if len(errs) > 0 {
		return syncErrors.E(syncErrors.OpPublish, syncErrors.Component("push"), syncErrors.KindUnavailable, errs[0])
	}
	return nil
}

// run executes one step, converting panics into errors so that the next
// step still runs.
func (o *Orchestrator) run(ctx context.Context, step string, action Action, id int64, fn func() error) error {
	err := o.logger.LogOperation(ctx, logging.Operation(step), func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = syncErrors.E(syncErrors.OpPropagate, syncErrors.KindInternal, fmt.Errorf("panic in %s step: %v", step, r))
			}
		}()
		return fn()
	},
		slog.Int64("entity_id", id),
		slog.String("action", string(action)),
		slog.String("step", step),
	)
	if err != nil {
		o.metrics.RecordPropagationFailure(step, string(action))
	}
	return err
}
