package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricely/telemetry/models"
)

// MemSessionStore is a mutex-serialized SessionStore. It backs tests and
// single-process deployments; the mutex gives the same per-user write
// serialization the Postgres store gets from its partial unique index.
type MemSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{sessions: make(map[string]*models.Session)}
}

func (s *MemSessionStore) StartSession(_ context.Context, userID, username, sessionID string, startedAt time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(userID, username, sessionID, startedAt), nil
}

func (s *MemSessionStore) startLocked(userID, username, sessionID string, startedAt time.Time) *models.Session {
	s.closeActiveLocked(userID, "", startedAt)

	session := &models.Session{
		SessionID:  sessionID,
		UserID:     userID,
		Username:   username,
		StartTime:  startedAt,
		IsActive:   true,
		LastSeenAt: startedAt,
	}
	s.sessions[sessionID] = session
	copy := *session
	return &copy
}

func (s *MemSessionStore) closeActiveLocked(userID, sessionID string, at time.Time) int64 {
	var count int64
	for _, session := range s.sessions {
		if session.UserID != userID || !session.IsActive {
			continue
		}
		if sessionID != "" && session.SessionID != sessionID {
			continue
		}
		ended := at
		session.IsActive = false
		session.EndTime = &ended
		session.LastSeenAt = at
		count++
	}
	return count
}

func (s *MemSessionStore) EnsureActive(_ context.Context, userID, username, sessionID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok && session.IsActive && session.UserID == userID {
		session.LastSeenAt = seenAt
		return nil
	}
	s.startLocked(userID, username, sessionID, seenAt)
	return nil
}

func (s *MemSessionStore) EndSessions(_ context.Context, userID, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeActiveLocked(userID, sessionID, time.Now().UTC()), nil
}

func (s *MemSessionStore) ActiveSession(_ context.Context, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Session
	for _, session := range s.sessions {
		if session.UserID != userID || !session.IsActive {
			continue
		}
		if latest == nil || session.StartTime.After(latest.StartTime) {
			latest = session
		}
	}
	if latest == nil {
		return nil, nil
	}
	copy := *latest
	return &copy, nil
}

// MemEventStore is an append-only in-memory EventStore preserving insertion
// order, which is what the memory summarizer's stable tie-break sorts over.
type MemEventStore struct {
	mu     sync.RWMutex
	events []models.Event
}

func NewMemEventStore() *MemEventStore {
	return &MemEventStore{}
}

func (s *MemEventStore) Insert(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemEventStore) snapshot() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemEventStore) EventsBySession(_ context.Context, sessionID string) ([]models.Event, error) {
	var events []models.Event
	for _, event := range s.snapshot() {
		if event.SessionID == sessionID {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *MemEventStore) EventsByUser(_ context.Context, userID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.Event
	for _, event := range s.snapshot() {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemEventStore) EventsByPage(_ context.Context, page string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.Event
	for _, event := range s.snapshot() {
		if event.Page == page {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// MemSummarizer computes the reporting queries in-process over a MemEventStore
// snapshot. Ranking ties break by input order only (stable sort, no secondary
// key).
type MemSummarizer struct {
	Events *MemEventStore
}

func NewMemSummarizer(events *MemEventStore) *MemSummarizer {
	return &MemSummarizer{Events: events}
}

func (s *MemSummarizer) scoped(userID string) []models.Event {
	events := s.Events.snapshot()
	if userID == "" {
		return events
	}
	var out []models.Event
	for _, event := range events {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemSummarizer) ActivityCounts(_ context.Context, userID string) ([]ActivityCount, error) {
	counts := make(map[models.Action]uint64)
	var order []models.Action
	for _, event := range s.scoped(userID) {
		if _, seen := counts[event.Action]; !seen {
			order = append(order, event.Action)
		}
		counts[event.Action]++
	}

	results := make([]ActivityCount, 0, len(order))
	for _, action := range order {
		results = append(results, ActivityCount{Action: action, Count: counts[action]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Count > results[j].Count
	})
	return results, nil
}

func (s *MemSummarizer) PageDurations(_ context.Context, userID string) ([]PageDurationStat, error) {
	type acc struct {
		total float64
		views uint64
	}
	sums := make(map[string]*acc)
	var order []string
	for _, event := range s.scoped(userID) {
		if event.Action != models.ActionPageDuration {
			continue
		}
		duration, ok := event.Metadata.Float("durationMs")
		if !ok {
			continue
		}
		a, seen := sums[event.Page]
		if !seen {
			a = &acc{}
			sums[event.Page] = a
			order = append(order, event.Page)
		}
		a.total += duration
		a.views++
	}

	results := make([]PageDurationStat, 0, len(order))
	for _, page := range order {
		a := sums[page]
		results = append(results, PageDurationStat{
			Page:          page,
			AvgDurationMs: a.total / float64(a.views),
			Views:         a.views,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Views > results[j].Views
	})
	return results, nil
}

func (s *MemSummarizer) TopEntities(_ context.Context, userID string, action models.Action, idKey, nameKey string, limit uint64) ([]TopEntity, error) {
	if limit == 0 {
		limit = 10
	}

	type acc struct {
		name   string
		nameAt time.Time
		count  uint64
	}
	entities := make(map[string]*acc)
	var order []string
	for _, event := range s.scoped(userID) {
		if event.Action != action {
			continue
		}
		id := event.Metadata.String(idKey)
		if id == "" {
			continue
		}
		a, seen := entities[id]
		if !seen {
			a = &acc{}
			entities[id] = a
			order = append(order, id)
		}
		a.count++
		// Carry the most-recently-seen display name.
		if name := event.Metadata.String(nameKey); name != "" && !event.Timestamp.Before(a.nameAt) {
			a.name = name
			a.nameAt = event.Timestamp
		}
	}

	results := make([]TopEntity, 0, len(order))
	for _, id := range order {
		a := entities[id]
		results = append(results, TopEntity{EntityID: id, Name: a.name, Count: a.count})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Count > results[j].Count
	})
	if uint64(len(results)) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemSummarizer) PhoneHistory(_ context.Context, userID string) ([]PhoneHistoryEntry, error) {
	type acc struct {
		name     string
		nameAt   time.Time
		views    uint64
		first    time.Time
		last     time.Time
		sessions map[string]struct{}
	}
	phones := make(map[string]*acc)
	var order []string
	for _, event := range s.scoped(userID) {
		if event.Action != models.ActionPhoneView {
			continue
		}
		id := event.Metadata.String("phoneId")
		if id == "" {
			continue
		}
		a, seen := phones[id]
		if !seen {
			a = &acc{first: event.Timestamp, last: event.Timestamp, sessions: make(map[string]struct{})}
			phones[id] = a
			order = append(order, id)
		}
		a.views++
		if event.Timestamp.Before(a.first) {
			a.first = event.Timestamp
		}
		if event.Timestamp.After(a.last) {
			a.last = event.Timestamp
		}
		if event.SessionID != "" {
			a.sessions[event.SessionID] = struct{}{}
		}
		if name := event.Metadata.String("phoneName"); name != "" && !event.Timestamp.Before(a.nameAt) {
			a.name = name
			a.nameAt = event.Timestamp
		}
	}

	results := make([]PhoneHistoryEntry, 0, len(order))
	for _, id := range order {
		a := phones[id]
		results = append(results, PhoneHistoryEntry{
			PhoneID:      id,
			PhoneName:    a.name,
			ViewCount:    a.views,
			FirstViewed:  a.first,
			LastViewed:   a.last,
			SessionCount: uint64(len(a.sessions)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ViewCount > results[j].ViewCount
	})
	return results, nil
}
