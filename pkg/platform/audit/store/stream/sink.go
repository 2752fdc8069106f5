// Package stream forwards audit events to a message broker topic.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "certify/pkg/platform/audit"
	"certify/pkg/platform/circuit"
	"certify/pkg/platform/sentinel"
)

// Producer is the broker client the sink writes through.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// message is the JSON published for each event.
type message struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	ActorID   string `json:"actorId,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Sink is an audit.Appender publishing to a topic. A circuit breaker stops
// attempts while the broker is failing; dropped events are logged.
type Sink struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithLogger sets the sink logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSink creates a sink for topic.
func NewSink(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("audit-stream", circuit.WithFailureThreshold(3), circuit.WithCooldown(15*time.Second)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append publishes event keyed by its subject so per-certificate ordering holds.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if !s.breaker.Allow() {
		s.logger.WarnContext(ctx, "audit stream circuit open, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
		return fmt.Errorf("audit stream %s: %w", s.topic, sentinel.ErrUnavailable)
	}

	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	payload, err := json.Marshal(message{
		ID:        event.ID,
		Category:  string(category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		ActorID:   event.ActorID,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	if err := s.producer.Produce(ctx, s.topic, []byte(event.Subject), payload); err != nil {
		if !errors.Is(err, context.Canceled) {
			if _, change := s.breaker.RecordFailure(); change.Opened {
				s.logger.ErrorContext(ctx, "audit stream circuit opened", "topic", s.topic, "error", err)
			}
		}
		return fmt.Errorf("produce audit message: %w", err)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "audit stream circuit closed", "topic", s.topic)
	}
	return nil
}

// Decode parses a published message back into an event.
func Decode(value []byte) (audit.Event, error) {
	var m message
	if err := json.Unmarshal(value, &m); err != nil {
		return audit.Event{}, fmt.Errorf("decode audit message: %w", err)
	}
	if m.Action == "" {
		return audit.Event{}, errors.New("decode audit message: action is missing")
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("decode audit message timestamp: %w", err)
	}
	return audit.Event{
		ID:        m.ID,
		Category:  audit.EventCategory(m.Category),
		Timestamp: ts,
		Subject:   m.Subject,
		Action:    m.Action,
		ActorID:   m.ActorID,
		Decision:  m.Decision,
		Reason:    m.Reason,
		RequestID: m.RequestID,
	}, nil
}
