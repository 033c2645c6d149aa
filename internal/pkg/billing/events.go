package billing

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

// EventKind is the canonical classification of an inbound webhook event. All
// shape-sniffing happens in ParseEvent; handlers only ever see one of these.
type EventKind string

const (
	EventAppInstalled          EventKind = "app.installed"
	EventAppUninstalled        EventKind = "app.uninstalled"
	EventMembershipActivated   EventKind = "membership.activated"
	EventMembershipDeactivated EventKind = "membership.deactivated"
	EventPaymentCompleted      EventKind = "payment.completed"
	EventPaymentFailed         EventKind = "payment.failed"
	EventUnhandled             EventKind = "unhandled"
)

// eventKinds is the total mapping from known upstream event identifiers to
// canonical kinds. Identifiers outside this map are unhandled, never guessed.
var eventKinds = map[string]EventKind{
	"app.installed":               EventAppInstalled,
	"app_installed":               EventAppInstalled,
	"app.uninstalled":             EventAppUninstalled,
	"app_uninstalled":             EventAppUninstalled,
	"membership.went_valid":       EventMembershipActivated,
	"membership_went_valid":       EventMembershipActivated,
	"membership.renewed":          EventMembershipActivated,
	"membership.upgraded":         EventMembershipActivated,
	"membership.went_invalid":     EventMembershipDeactivated,
	"membership_went_invalid":     EventMembershipDeactivated,
	"membership.canceled":         EventMembershipDeactivated,
	"membership.expired":          EventMembershipDeactivated,
	"payment.succeeded":           EventPaymentCompleted,
	"payment_succeeded":           EventPaymentCompleted,
	"payment.completed":           EventPaymentCompleted,
	"payment.failed":              EventPaymentFailed,
	"payment_failed":              EventPaymentFailed,
	"payment.affirmative_dispute": EventUnhandled,
}

// Event is the normalized internal representation of a webhook payload. All
// business logic runs against this one shape.
type Event struct {
	Kind    EventKind
	Action  string
	EventID string

	MembershipID string
	UserID       string
	CompanyID    string
	AccessPassID string
	Status       string
	Valid        *bool
	ExpiresAt    *time.Time

	PaymentID   string
	AmountCents int64
	Currency    string
	Method      string

	RawJSON string
}

// envelope covers the payload shapes the platform has been observed to send:
// the event name may live under "action", "event" or "type", and entity
// fields may be top-level or nested under "data".
type envelope struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data"`
}

type entityFields struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	User   struct {
		ID string `json:"id"`
	} `json:"user"`
	MembershipID string  `json:"membership_id"`
	CompanyID    string  `json:"company_id"`
	AccessPassID string  `json:"access_pass_id"`
	PlanID       string  `json:"plan_id"`
	Status       string  `json:"status"`
	Valid        *bool   `json:"valid"`
	FinalAmount  float64 `json:"final_amount"`
	Currency     string  `json:"currency"`
	Method       string  `json:"payment_method"`
	ExpiresAt    int64   `json:"expires_at"`
	RenewalEnd   string  `json:"renewal_period_end"`
}

// ParseEvent normalizes a raw webhook payload into one canonical Event.
// Unknown action names yield EventUnhandled; the payload is still accepted so
// the sender does not retry-storm us.
func ParseEvent(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.New("webhook payload is not valid JSON")
	}

	action := firstNonEmpty(env.Action, env.Event, env.Type)

	var data entityFields
	if len(env.Data) > 0 {
		// Nested entity fields win over top-level ones when both exist.
		_ = json.Unmarshal(env.Data, &data)
	}
	if data.ID == "" {
		// Older payloads carry the entity at the top level. The top-level id
		// is the delivery id, not an entity id.
		_ = json.Unmarshal(payload, &data)
		if data.ID == env.ID {
			data.ID = ""
		}
	}

	ev := &Event{
		Action:       strings.ToLower(strings.TrimSpace(action)),
		EventID:      strings.TrimSpace(env.ID),
		UserID:       firstNonEmpty(data.UserID, data.User.ID),
		CompanyID:    strings.TrimSpace(data.CompanyID),
		AccessPassID: firstNonEmpty(data.AccessPassID, data.PlanID),
		Status:       strings.ToLower(strings.TrimSpace(data.Status)),
		Valid:        data.Valid,
		AmountCents:  toCents(data.FinalAmount),
		Currency:     strings.ToLower(strings.TrimSpace(data.Currency)),
		Method:       strings.TrimSpace(data.Method),
		RawJSON:      string(payload),
	}
	if data.ExpiresAt > 0 {
		t := time.Unix(data.ExpiresAt, 0).UTC()
		ev.ExpiresAt = &t
	} else if data.RenewalEnd != "" {
		if t, err := time.Parse(time.RFC3339, data.RenewalEnd); err == nil {
			ev.ExpiresAt = &t
		}
	}

	ev.Kind = classify(ev.Action, data.ID)
	switch ev.Kind {
	case EventPaymentCompleted, EventPaymentFailed:
		ev.PaymentID = strings.TrimSpace(data.ID)
		ev.MembershipID = strings.TrimSpace(data.MembershipID)
	default:
		ev.MembershipID = strings.TrimSpace(data.ID)
		if ev.MembershipID == "" {
			ev.MembershipID = strings.TrimSpace(data.MembershipID)
		}
	}

	return ev, nil
}

// classify maps the action name through the total event table. Payloads
// without any action name fall back to the entity ID prefix, the one place a
// heuristic is allowed: "pay_" identifies payment events, "mem_" membership
// events; everything else is unhandled.
func classify(action, entityID string) EventKind {
	if action != "" {
		if kind, ok := eventKinds[action]; ok {
			return kind
		}
		return EventUnhandled
	}

	switch {
	case strings.HasPrefix(entityID, "pay_"):
		return EventPaymentCompleted
	case strings.HasPrefix(entityID, "mem_"):
		return EventMembershipActivated
	default:
		return EventUnhandled
	}
}

// toCents converts a decimal amount to integer cents. Rounding matters:
// 24.99 is not exactly representable and would truncate to 2498 otherwise.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
