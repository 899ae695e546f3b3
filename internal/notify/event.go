package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	EventOrderConfirmed        = "order.confirmed"
	EventAdminAlert            = "admin.alert"
	EventBillCreated           = "bill.created"
	EventPurchaseOrderReceived = "purchase_order.received"
	EventActivityLogged        = "activity.logged"
)

// Event is the envelope every dispatcher receives. Payload is the JSON of the
// domain record the event is about.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope, taking the trace id from the request id that
// the HTTP layer stored on ctx.
func NewEvent(ctx context.Context, eventType string, producer string, correlationID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload into T.
func Decode[T any](ev Event) (T, error) {
	var out T
	err := json.Unmarshal(ev.Payload, &out)
	return out, err
}
