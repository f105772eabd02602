package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Action names the kind of mutation an outbox entry replays.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
)

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionPublish:
		return true
	}
	return false
}

// ErrMalformedEntry marks an outbox entry that can never be replayed.
var ErrMalformedEntry = errors.New("malformed outbox entry")

var validate = validator.New()

// Payload is the closed set of outbox intents. Each variant knows its action
// and the note it targets.
type Payload interface {
	Action() Action
	// Target is the id of the note the intent applies to; the temp id for creates.
	Target() string

	isPayload()
}

// CreatePayload queues a note the server has not seen yet.
type CreatePayload struct {
	TempID string `json:"temp_id" validate:"required,startswith=temp-"`
	Fields
	// MakePublic requests a follow-up publish once the note exists.
	MakePublic bool `json:"make_public,omitempty"`
}

// UpdatePayload queues an edit of a synced note. Version is the version the
// client believed current when the edit was made.
type UpdatePayload struct {
	ID string `json:"id" validate:"required"`
	Fields
	Version int64 `json:"version" validate:"gte=1"`
}

// DeletePayload queues removal of a synced note.
type DeletePayload struct {
	ID string `json:"id" validate:"required"`
}

// PublishPayload queues a visibility change.
type PublishPayload struct {
	ID     string `json:"id" validate:"required"`
	Public bool   `json:"public"`
}

func (CreatePayload) Action() Action  { return ActionCreate }
func (UpdatePayload) Action() Action  { return ActionUpdate }
func (DeletePayload) Action() Action  { return ActionDelete }
func (PublishPayload) Action() Action { return ActionPublish }

func (p CreatePayload) Target() string  { return p.TempID }
func (p UpdatePayload) Target() string  { return p.ID }
func (p DeletePayload) Target() string  { return p.ID }
func (p PublishPayload) Target() string { return p.ID }

func (CreatePayload) isPayload()  {}
func (UpdatePayload) isPayload()  {}
func (DeletePayload) isPayload()  {}
func (PublishPayload) isPayload() {}

// ValidatePayload checks the struct constraints of a payload variant.
func ValidatePayload(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: empty payload", ErrMalformedEntry)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEntry, p.Action(), err)
	}
	return nil
}

// OutboxEntry is one pending mutation. Entries are immutable once stored.
type OutboxEntry struct {
	// Seq is assigned at enqueue time; replay order and deletion key.
	Seq       uint64
	Action    Action
	Payload   Payload
	CreatedAt time.Time

	// Malformed is set when the stored record could not be decoded or
	// failed validation. Such entries are dropped by the drain, not replayed.
	Malformed error
}

// Targets reports whether the entry is an intent for note id.
func (e *OutboxEntry) Targets(id string) bool {
	return e.Payload != nil && id != "" && e.Payload.Target() == id
}

type outboxRecord struct {
	Seq       uint64          `json:"seq"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EncodeOutboxEntry serializes e for durable storage.
func EncodeOutboxEntry(e *OutboxEntry) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedEntry)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Payload.Action(), err)
	}
	return json.Marshal(outboxRecord{
		Seq:       e.Seq,
		Action:    e.Payload.Action(),
		Payload:   raw,
		CreatedAt: e.CreatedAt,
	})
}

// DecodeOutboxEntry restores an entry stored under seq. It never fails:
// problems are reported through the entry's Malformed field so the caller
// can still drop it by sequence.
func DecodeOutboxEntry(seq uint64, data []byte) *OutboxEntry {
	e := &OutboxEntry{Seq: seq}

	var rec outboxRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		e.Malformed = fmt.Errorf("%w: %v", ErrMalformedEntry, err)
		return e
	}
	e.Action = rec.Action
	e.CreatedAt = rec.CreatedAt

	p, err := decodePayload(rec.Action, rec.Payload)
	if err != nil {
		e.Malformed = err
		return e
	}
	if err := ValidatePayload(p); err != nil {
		e.Malformed = err
		return e
	}
	e.Payload = p
	return e
}

func decodePayload(action Action, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch action {
	case ActionCreate:
		var v CreatePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ActionUpdate:
		var v UpdatePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ActionDelete:
		var v DeletePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ActionPublish:
		var v PublishPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedEntry, action)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEntry, action, err)
	}
	return p, nil
}

// ValidateFields checks user-editable fields before they are queued or sent.
func ValidateFields(f Fields) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid note fields: %w", err)
	}
	return nil
}
