// api/internal/models/event.go
package models

import (
	"encoding/json"
	"time"
)

// AnonymousUser is the sentinel identity assigned to events arriving from
// instrumentation that carries no authenticated principal.
const AnonymousUser = "anonymous"

// Action identifies the interaction class of an event.
type Action string

const (
	ActionPageView         Action = "page_view"
	ActionButtonClick      Action = "button_click"
	ActionProductClick     Action = "product_click"
	ActionPhoneView        Action = "phone_view"
	ActionNavigation       Action = "navigation"
	ActionSocialClick      Action = "social_click"
	ActionFieldInteraction Action = "field_interaction"
	ActionScrollDepth      Action = "scroll_depth"
	ActionPageDuration     Action = "page_duration"
	ActionFormSubmission   Action = "form_submission"
	ActionSearch           Action = "search"
	ActionSessionStart     Action = "session_start"
	ActionTogglePanel      Action = "toggle_panel"
	ActionSwitchPanel      Action = "switch_panel"
	ActionViewDetails      Action = "view_details"
	ActionAddToCart        Action = "add_to_cart"
)

// Metadata is an open mapping of action-specific attributes. Unknown keys are
// preserved as-is; instrumentation evolves independently of the server.
type Metadata map[string]any

// JSON serializes the metadata for at-rest storage. Nil maps serialize to an
// empty object so the stored column is always valid JSON.
func (m Metadata) JSON() string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// String returns the string value stored under key, or "" if absent or not a
// string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Float returns the numeric value stored under key. JSON numbers decode as
// float64, but instrumentation constructed in-process may use ints.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// EventPayload is the wire shape accepted by the ingestion endpoint.
// Timestamp travels as a string so a malformed value yields a field-level
// validation error instead of a generic bind failure.
type EventPayload struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	SessionID string   `json:"sessionId"`
	Action    string   `json:"action"`
	Page      string   `json:"page"`
	Timestamp string   `json:"timestamp,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// Event is one immutable interaction fact. Once stored it is never mutated.
type Event struct {
	EventID   string    `json:"eventId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	SessionID string    `json:"sessionId"`
	Action    Action    `json:"action"`
	Page      string    `json:"page"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// ValidateEvent checks a candidate payload and returns the canonical Event,
// or a ValidationError naming the first missing or malformed field.
//
// Rules: userId must be non-empty (the anonymous sentinel is acceptable),
// action must be a known Action, timestamp must parse as RFC3339 when present
// (absent means receivedAt is substituted), page defaults to "unknown".
// Metadata keys are never rejected.
func ValidateEvent(p EventPayload, receivedAt time.Time) (*Event, error) {
	if p.UserID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if p.Action == "" {
		return nil, &ValidationError{Field: "action", Reason: "must not be empty"}
	}
	if !IsValidAction(p.Action) {
		return nil, &ValidationError{Field: "action", Reason: "unknown action '" + p.Action + "'"}
	}

	ts := receivedAt.UTC()
	if p.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return nil, &ValidationError{Field: "timestamp", Reason: "must be RFC3339"}
		}
		ts = parsed.UTC()
	}

	page := p.Page
	if page == "" {
		page = "unknown"
	}

	username := p.Username
	if username == "" {
		username = p.UserID
	}

	return &Event{
		UserID:    p.UserID,
		Username:  username,
		SessionID: p.SessionID,
		Action:    Action(p.Action),
		Page:      page,
		Timestamp: ts,
		Metadata:  p.Metadata,
	}, nil
}

// IsValidAction reports whether s names a known interaction class.
func IsValidAction(s string) bool {
	switch Action(s) {
	case ActionPageView, ActionButtonClick, ActionProductClick, ActionPhoneView,
		ActionNavigation, ActionSocialClick, ActionFieldInteraction,
		ActionScrollDepth, ActionPageDuration, ActionFormSubmission,
		ActionSearch, ActionSessionStart, ActionTogglePanel, ActionSwitchPanel,
		ActionViewDetails, ActionAddToCart:
		return true
	default:
		return false
	}
}
