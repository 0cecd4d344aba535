// Package events publishes domain notifications (document processed or
// deleted, question answered) for downstream consumers.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types. They double as AMQP routing keys.
const (
	DocumentProcessed = "document.processed"
	DocumentDeleted   = "document.deleted"
	QueryAnswered     = "query.answered"
)

// Event is the JSON body of a published message.
type Event struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	DocumentID string         `json:"document_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher in order and returns the joined errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
