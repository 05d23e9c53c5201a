package sef

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// EventType enumerates the notification kinds the exchange pushes.
type EventType string

const (
	EventStatusChange         EventType = "STATUS_CHANGE"
	EventDeliveryConfirmation EventType = "DELIVERY_CONFIRMATION"
	EventAcceptance           EventType = "ACCEPTANCE"
	EventRejection            EventType = "REJECTION"
	EventCancellation         EventType = "CANCELLATION"
)

// ErrUnknownEventType marks event types this version does not understand.
// They are logged and acknowledged without state change so newer exchange
// versions do not trigger retry storms.
var ErrUnknownEventType = errors.New("unknown event type")

var validate = validator.New()

// Envelope is the common outer shape of every notification. It is decoded
// leniently so a log row can be written even for payloads whose specific
// event shape is invalid.
type Envelope struct {
	SEFID     string    `json:"sefId" validate:"required"`
	EventType EventType `json:"eventType" validate:"required"`
	EventID   string    `json:"eventId"`
	Timestamp string    `json:"timestamp"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Comment   string    `json:"comment"`
}

// DedupID returns the identifier used for the webhook log's unique index:
// the sender-supplied event id when present, otherwise a hash of the raw
// payload.
func (e *Envelope) DedupID(raw []byte) string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return "hash:" + hex.EncodeToString(sum[:])
}

// Event is one verified, typed notification. Each variant carries exactly
// the fields its type requires.
type Event interface {
	Type() EventType
	SEFID() string
	// TargetStatus is the canonical state this event drives the invoice
	// toward.
	TargetStatus() invoicestatus.Status
	// OccurredAt is the event-reported time.
	OccurredAt() time.Time
}

type eventBase struct {
	sefID string
	at    time.Time
}

func (e eventBase) SEFID() string { return e.sefID }
func (e eventBase) OccurredAt() time.Time { return e.at }

// StatusChangeEvent reports an arbitrary exchange-side status move.
type StatusChangeEvent struct {
	eventBase
	NewStatus invoicestatus.Status
	RawStatus string
}

func (StatusChangeEvent) Type() EventType { return EventStatusChange }
func (e StatusChangeEvent) TargetStatus() invoicestatus.Status { return e.NewStatus }

// DeliveryConfirmationEvent reports that the recipient received the document.
type DeliveryConfirmationEvent struct {
	eventBase
}

func (DeliveryConfirmationEvent) Type() EventType { return EventDeliveryConfirmation }
func (DeliveryConfirmationEvent) TargetStatus() invoicestatus.Status {
	return invoicestatus.StatusDelivered
}

// AcceptanceEvent reports that the recipient approved the document.
type AcceptanceEvent struct {
	eventBase
	Comment string
}

func (AcceptanceEvent) Type() EventType { return EventAcceptance }
func (AcceptanceEvent) TargetStatus() invoicestatus.Status { return invoicestatus.StatusAccepted }

// RejectionEvent reports that the recipient refused the document.
type RejectionEvent struct {
	eventBase
	Reason string
}

func (RejectionEvent) Type() EventType { return EventRejection }
func (RejectionEvent) TargetStatus() invoicestatus.Status { return invoicestatus.StatusRejected }

// CancellationEvent reports that the document was cancelled on the exchange.
type CancellationEvent struct {
	eventBase
	Reason string
}

func (CancellationEvent) Type() EventType { return EventCancellation }
func (CancellationEvent) TargetStatus() invoicestatus.Status { return invoicestatus.StatusCancelled }

// ParseEnvelope decodes just the outer shape. It succeeds whenever the body
// is JSON with the two required fields, regardless of the event-specific
// payload.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	return &env, nil
}

// ParseEvent turns a decoded envelope into its typed variant, rejecting
// unknown shapes at the boundary rather than deep in handler logic.
func ParseEvent(env *Envelope) (Event, error) {
	base := eventBase{sefID: env.SEFID, at: parseEventTime(env.Timestamp)}

	switch env.EventType {
	case EventStatusChange:
		raw := strings.TrimSpace(env.Status)
		if raw == "" {
			return nil, fmt.Errorf("STATUS_CHANGE event without status field")
		}
		mapped, ok := invoicestatus.FromExchange(raw)
		if !ok {
			return nil, fmt.Errorf("STATUS_CHANGE with unmapped status %q", raw)
		}
		return StatusChangeEvent{eventBase: base, NewStatus: mapped, RawStatus: raw}, nil
	case EventDeliveryConfirmation:
		return DeliveryConfirmationEvent{eventBase: base}, nil
	case EventAcceptance:
		return AcceptanceEvent{eventBase: base, Comment: env.Comment}, nil
	case EventRejection:
		return RejectionEvent{eventBase: base, Reason: env.Reason}, nil
	case EventCancellation:
		return CancellationEvent{eventBase: base, Reason: env.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}

// parseEventTime accepts RFC 3339 or unix seconds. When the exchange omits
// the timestamp the receipt time is the best chronology available.
func parseEventTime(ts string) time.Time {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Now()
	}
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed
	}
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	return time.Now()
}
