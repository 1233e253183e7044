// Package ingest parses and processes inbound webhook events. Payloads are
// validated against JSON Schemas at the boundary so the rest of the pipeline
// only ever sees well-formed typed events.
package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EventKind tags the variant of an inbound event.
type EventKind string

const (
	// KindInboundEmail is a newly received support email.
	KindInboundEmail EventKind = "inbound_email"

	// KindEmailStatus is a delivery or state change notification for an
	// email already in the system.
	KindEmailStatus EventKind = "email_status"

	// KindUnknown marks an event whose kind the parser does not recognize.
	// Unknown events are preserved verbatim rather than dropped, so callers
	// decide whether to reject or dead-letter them.
	KindUnknown EventKind = "unknown"
)

// Event is one parsed inbound event.
type Event interface {
	// Kind returns the variant tag.
	Kind() EventKind

	// EventID returns the sender-assigned event identifier.
	EventID() string
}

// InboundEmailEvent is a new support email delivered by the inbox provider.
type InboundEmailEvent struct {
	ID         string
	UserID     string
	EmailID    string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

func (e *InboundEmailEvent) Kind() EventKind { return KindInboundEmail }
func (e *InboundEmailEvent) EventID() string { return e.ID }

// EmailStatusEvent is a state change notification for a known email.
type EmailStatusEvent struct {
	ID      string
	UserID  string
	EmailID string
	Status  string
}

func (e *EmailStatusEvent) Kind() EventKind { return KindEmailStatus }
func (e *EmailStatusEvent) EventID() string { return e.ID }

// UnknownEvent carries an event of an unrecognized kind. The raw payload is
// retained for inspection.
type UnknownEvent struct {
	ID      string
	RawKind string
	Payload json.RawMessage
}

func (e *UnknownEvent) Kind() EventKind { return KindUnknown }
func (e *UnknownEvent) EventID() string { return e.ID }

type envelope struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type eventSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	payloads map[EventKind]*jsonschema.Schema
}

var eventSchemas eventSchemaRegistry

func initEventSchemas() error {
	eventSchemas.once.Do(func() {
		env, err := jsonschema.CompileString("event_envelope", envelopeSchema)
		if err != nil {
			eventSchemas.initErr = err
			return
		}
		eventSchemas.envelope = env

		payloads := map[EventKind]string{
			KindInboundEmail: inboundEmailPayloadSchema,
			KindEmailStatus:  emailStatusPayloadSchema,
		}
		eventSchemas.payloads = make(map[EventKind]*jsonschema.Schema, len(payloads))
		for kind, schema := range payloads {
			compiled, err := jsonschema.CompileString("event_payload_"+string(kind), schema)
			if err != nil {
				eventSchemas.initErr = err
				return
			}
			eventSchemas.payloads[kind] = compiled
		}
	})
	return eventSchemas.initErr
}

// ParseEvent validates raw against the envelope and per-kind payload schemas
// and returns the typed variant. An unrecognized kind yields an UnknownEvent
// rather than an error; malformed JSON or a schema violation is an error.
func ParseEvent(raw []byte) (Event, error) {
	if err := initEventSchemas(); err != nil {
		return nil, fmt.Errorf("compiling event schemas: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	if err := eventSchemas.envelope.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	schema, known := eventSchemas.payloads[EventKind(env.Kind)]
	if !known {
		return &UnknownEvent{ID: env.ID, RawKind: env.Kind, Payload: env.Payload}, nil
	}

	var payload any
	if len(env.Payload) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload JSON: %w", env.Kind, err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Kind, err)
	}

	switch EventKind(env.Kind) {
	case KindInboundEmail:
		var p struct {
			UserID     string    `json:"user_id"`
			EmailID    string    `json:"email_id"`
			From       string    `json:"from"`
			Subject    string    `json:"subject"`
			Body       string    `json:"body"`
			ReceivedAt time.Time `json:"received_at"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
		}
		return &InboundEmailEvent{
			ID:         env.ID,
			UserID:     p.UserID,
			EmailID:    p.EmailID,
			From:       p.From,
			Subject:    p.Subject,
			Body:       p.Body,
			ReceivedAt: p.ReceivedAt,
		}, nil

	case KindEmailStatus:
		var p struct {
			UserID  string `json:"user_id"`
			EmailID string `json:"email_id"`
			Status  string `json:"status"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
		}
		return &EmailStatusEvent{
			ID:      env.ID,
			UserID:  p.UserID,
			EmailID: p.EmailID,
			Status:  p.Status,
		}, nil

	default:
		return &UnknownEvent{ID: env.ID, RawKind: env.Kind, Payload: env.Payload}, nil
	}
}

const envelopeSchema = `{
  "type": "object",
  "required": ["kind", "id"],
  "properties": {
    "kind": { "type": "string", "minLength": 1 },
    "id": { "type": "string", "minLength": 1 },
    "payload": {}
  },
  "additionalProperties": true
}`

const inboundEmailPayloadSchema = `{
  "type": "object",
  "required": ["user_id", "email_id", "from"],
  "properties": {
    "user_id": { "type": "string", "minLength": 1 },
    "email_id": { "type": "string", "minLength": 1 },
    "from": { "type": "string", "minLength": 1 },
    "subject": { "type": "string" },
    "body": { "type": "string" },
    "received_at": { "type": "string", "format": "date-time" }
  },
  "additionalProperties": true
}`

const emailStatusPayloadSchema = `{
  "type": "object",
  "required": ["user_id", "email_id", "status"],
  "properties": {
    "user_id": { "type": "string", "minLength": 1 },
    "email_id": { "type": "string", "minLength": 1 },
    "status": { "type": "string", "enum": ["delivered", "bounced", "opened", "replied"] }
  },
  "additionalProperties": true
}`
