// Package event defines the canonical envelope for domain events exchanged
// between services and the closed catalog of payloads it can carry.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Type is the dotted namespace tag of an event. It doubles as the routing key.
type Type string

const (
	TypeOrderConfirmed    Type = "payments.order.confirmed"
	TypeOrderRejected     Type = "payments.order.rejected"
	TypeTicketTypeCreated Type = "ticket-type.created"
	TypeTicketTypeUpdated Type = "ticket-type.updated"
	TypeTicketIssued      Type = "tickets.ticket.issued"
)

// Payload is implemented only by the event bodies declared in this package.
type Payload interface {
	EventType() Type
	isPayload()
}

// Envelope wraps a payload with its type tag and occurrence time.
// All fields are fixed at construction.
type Envelope struct {
	id         uuid.UUID
	eventType  Type
	occurredAt time.Time
	payload    Payload
}

// New builds an envelope stamped with the current time.
func New(p Payload) Envelope {
	return NewAt(p, time.Now())
}

// NewAt builds an envelope with an explicit occurrence time.
func NewAt(p Payload, occurredAt time.Time) Envelope {
	return Envelope{
		id:         uuid.New(),
		eventType:  p.EventType(),
		occurredAt: occurredAt.UTC(),
		payload:    p,
	}
}

func (e Envelope) ID() uuid.UUID         { return e.id }
func (e Envelope) Type() Type            { return e.eventType }
func (e Envelope) OccurredAt() time.Time { return e.occurredAt }
func (e Envelope) Payload() Payload      { return e.payload }

// RoutingKey is the broker routing key the envelope is published under.
func (e Envelope) RoutingKey() string {
	return string(e.eventType)
}

// As returns the payload typed as T when the envelope carries one.
func As[T Payload](e Envelope) (T, bool) {
	p, ok := e.payload.(T)
	return p, ok
}

type wireEnvelope struct {
	EventID    uuid.UUID       `json:"eventId"`
	EventType  Type            `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON renders the wire form {eventId, eventType, occurredAt, payload}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.payload == nil {
		return nil, fmt.Errorf("marshal envelope: empty payload")
	}
	body, err := json.Marshal(e.payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.eventType, err)
	}
	return json.Marshal(wireEnvelope{
		EventID:    e.id,
		EventType:  e.eventType,
		OccurredAt: e.occurredAt,
		Payload:    body,
	})
}

// UnmarshalJSON decodes and validates the wire form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

var validate = validator.New()

type decoder func(raw json.RawMessage) (Payload, error)

var catalog = map[Type]decoder{
	TypeOrderConfirmed:    decodeAs[OrderConfirmed],
	TypeOrderRejected:     decodeAs[OrderRejected],
	TypeTicketTypeCreated: decodeAs[TicketTypeCreated],
	TypeTicketTypeUpdated: decodeAs[TicketTypeUpdated],
	TypeTicketIssued:      decodeAs[TicketIssued],
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domainErrors.NewValidationError("payload", "malformed: "+err.Error())
	}
	if err := validate.Struct(p); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return nil, domainErrors.NewValidationError(ve[0].Namespace(), ve[0].Tag()+" validation failed")
		}
		return nil, domainErrors.NewValidationError("payload", err.Error())
	}
	return p, nil
}

// Decode parses a wire envelope into a typed one. Unknown tags and payloads
// that do not match their tag's schema are validation errors.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, domainErrors.NewValidationError("envelope", "malformed: "+err.Error())
	}
	if w.EventType == "" {
		return Envelope{}, domainErrors.NewValidationError("eventType", "required")
	}
	decode, ok := catalog[w.EventType]
	if !ok {
		return Envelope{}, fmt.Errorf("%w %q: %w", domainErrors.ErrUnknownEventType, w.EventType,
			domainErrors.NewValidationError("eventType", "not in catalog"))
	}
	if w.OccurredAt.IsZero() {
		return Envelope{}, domainErrors.NewValidationError("occurredAt", "required")
	}
	if len(w.Payload) == 0 {
		return Envelope{}, domainErrors.NewValidationError("payload", "required")
	}
	p, err := decode(w.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		id:         w.EventID,
		eventType:  w.EventType,
		occurredAt: w.OccurredAt.UTC(),
		payload:    p,
	}, nil
}

// Known reports whether t belongs to the catalog.
func Known(t Type) bool {
	_, ok := catalog[t]
	return ok
}
