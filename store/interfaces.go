package store

import (
	"context"
	"time"

	"pricely/telemetry/models"
)

// SessionStore owns session lifecycle state. Implementations must serialize
// open/close for a single userId against itself: two concurrent events for
// the same user must never both open a session.
type SessionStore interface {
	// StartSession closes any other active session for the user, then opens
	// (or reactivates) the given one.
	StartSession(ctx context.Context, userID, username, sessionID string, startedAt time.Time) (*models.Session, error)

	// EnsureActive records a sighting of sessionID. A known active session
	// just has lastSeenAt advanced; an unknown or inactive one is opened,
	// superseding whatever was active for the user.
	EnsureActive(ctx context.Context, userID, username, sessionID string, seenAt time.Time) error

	// EndSessions marks active sessions for the user inactive, scoped to one
	// sessionID when non-empty, and returns how many were ended. Ending an
	// already-inactive session is a no-op success.
	EndSessions(ctx context.Context, userID, sessionID string) (int64, error)

	// ActiveSession returns the user's active session, or (nil, nil) when
	// there is none.
	ActiveSession(ctx context.Context, userID string) (*models.Session, error)
}

// EventStore is the append-only persistence for interaction events.
type EventStore interface {
	Insert(ctx context.Context, event *models.Event) error

	// EventsBySession replays one visit in ascending timestamp order.
	EventsBySession(ctx context.Context, sessionID string) ([]models.Event, error)

	// EventsByUser returns the user's most recent events, newest first.
	EventsByUser(ctx context.Context, userID string, limit int) ([]models.Event, error)

	// EventsByPage returns the most recent events captured on one page,
	// newest first.
	EventsByPage(ctx context.Context, page string, limit int) ([]models.Event, error)
}

// Summarizer exposes the named aggregation queries of the reporting engine.
// A userID of "" scopes a query globally. All queries are read-only and
// tolerate a snapshot that lags the latest write.
type Summarizer interface {
	ActivityCounts(ctx context.Context, userID string) ([]ActivityCount, error)
	PageDurations(ctx context.Context, userID string) ([]PageDurationStat, error)

	// TopEntities ranks entities of one interaction class by occurrence
	// count, identified by the metadata key idKey. The display name carried
	// for each entity is the most recently seen value under nameKey.
	TopEntities(ctx context.Context, userID string, action models.Action, idKey, nameKey string, limit uint64) ([]TopEntity, error)

	PhoneHistory(ctx context.Context, userID string) ([]PhoneHistoryEntry, error)
}

type ActivityCount struct {
	Action models.Action `json:"action"`
	Count  uint64        `json:"count"`
}

type PageDurationStat struct {
	Page          string  `json:"page"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	Views         uint64  `json:"totalViews"`
}

type TopEntity struct {
	EntityID string `json:"entityId"`
	Name     string `json:"name"`
	Count    uint64 `json:"count"`
}

type PhoneHistoryEntry struct {
	PhoneID      string    `json:"phoneId"`
	PhoneName    string    `json:"phoneName"`
	ViewCount    uint64    `json:"viewCount"`
	FirstViewed  time.Time `json:"firstViewed"`
	LastViewed   time.Time `json:"lastViewed"`
	SessionCount uint64    `json:"sessionCount"`
}
