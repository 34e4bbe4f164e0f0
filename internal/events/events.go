// Package events carries domain events between the ledger and its
// consumers. Delivery is at-least-once; consumers dedup by EventID.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata describes where and as what an event is published.
type Metadata struct {
	EventType string
	Topic     string
}

// Envelope is the transport wrapper around an event payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// DeterministicEvent is implemented by payloads that carry their own id, so
// redeliveries of the same fact share an EventID.
type DeterministicEvent interface {
	DeterministicEventID() string
}

// Publisher publishes an event and waits for the transport to accept it.
// A zero timeout means no deadline beyond ctx.
type Publisher interface {
	PublishSync(ctx context.Context, meta Metadata, aggregateID string, data any,
		parentEventID, traceID string, timeout time.Duration) (Envelope, error)
}

// Handler processes one delivered envelope. A non-nil error leaves the
// event eligible for redelivery.
type Handler func(ctx context.Context, env Envelope) error

// NewEnvelope wraps data for publishing.
func NewEnvelope(meta Metadata, aggregateID string, data any, parentEventID, traceID string, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", meta.EventType, err)
	}

	id := uuid.New().String()
	if de, ok := data.(DeterministicEvent); ok {
		id = de.DeterministicEventID()
	}

	return Envelope{
		EventID:       id,
		EventType:     meta.EventType,
		AggregateID:   aggregateID,
		ParentEventID: parentEventID,
		TraceID:       traceID,
		Timestamp:     at,
		Data:          raw,
	}, nil
}

// DirectPublisher hands events straight to an in-process handler. Used when
// no broker is configured.
type DirectPublisher struct {
	handler Handler
}

// NewDirectPublisher creates a publisher that calls handler synchronously.
func NewDirectPublisher(handler Handler) *DirectPublisher {
	return &DirectPublisher{handler: handler}
}

func (p *DirectPublisher) PublishSync(ctx context.Context, meta Metadata, aggregateID string, data any,
	parentEventID, traceID string, timeout time.Duration) (Envelope, error) {
	env, err := NewEnvelope(meta, aggregateID, data, parentEventID, traceID, time.Now().UTC())
	if err != nil {
		return Envelope{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := p.handler(ctx, env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
