package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/google/uuid"
)

// DefaultMaxRetries bounds relay attempts before an entry is parked as failed.
const DefaultMaxRetries = 5

// Entry is a serialized envelope waiting to be relayed to the broker.
// ID equals the envelope id so consumers can correlate duplicates.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     event.Type
	RoutingKey    string
	Body          json.RawMessage
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// NewEntry serializes env for the outbox table.
func NewEntry(aggregateType, aggregateID string, env event.Envelope) (*Entry, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("serialize %s envelope: %w", env.Type(), err)
	}
	return &Entry{
		ID:            env.ID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     env.Type(),
		RoutingKey:    env.RoutingKey(),
		Body:          body,
		Status:        StatusPending,
		RetryCount:    0,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now(),
	}, nil
}
