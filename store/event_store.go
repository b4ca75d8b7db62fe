package store

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"pricely/telemetry/database"
	"pricely/telemetry/models"
)

// ClickHouseEventStore appends interaction events to ClickHouse. Events are
// immutable once written; the table is ordered by (user_id, timestamp) with a
// bloom-filter index covering session replay lookups.
type ClickHouseEventStore struct {
	DB *database.ClickHouseClient
}

func NewClickHouseEventStore(chClient *database.ClickHouseClient) *ClickHouseEventStore {
	return &ClickHouseEventStore{DB: chClient}
}

// EnsureSchema creates the interaction_events table.
func (s *ClickHouseEventStore) EnsureSchema(ctx context.Context) error {
	err := s.DB.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS interaction_events (
			event_id   String,
			user_id    String,
			username   String,
			session_id String,
			action     LowCardinality(String),
			page       String,
			timestamp  DateTime64(3, 'UTC'),
			metadata   String,
			INDEX idx_session session_id TYPE bloom_filter GRANULARITY 4
		) ENGINE = MergeTree
		ORDER BY (user_id, timestamp)
	`)
	if err != nil {
		return &models.StorageError{Op: "ensure events schema", Err: err}
	}
	return nil
}

func (s *ClickHouseEventStore) Insert(ctx context.Context, event *models.Event) error {
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO interaction_events (
			event_id, user_id, username, session_id, action, page, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return &models.StorageError{Op: "prepare event insert", Err: err}
	}

	err = batch.Append(
		event.EventID,
		event.UserID,
		event.Username,
		event.SessionID,
		string(event.Action),
		event.Page,
		event.Timestamp,
		event.Metadata.JSON(),
	)
	if err != nil {
		return &models.StorageError{Op: "append event", Err: err}
	}

	if err := batch.Send(); err != nil {
		return &models.StorageError{Op: "insert event", Err: err}
	}
	return nil
}

func (s *ClickHouseEventStore) EventsBySession(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT event_id, user_id, username, session_id, action, page, timestamp, metadata
		FROM interaction_events
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, &models.StorageError{Op: "query session events", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *ClickHouseEventStore) EventsByUser(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT event_id, user_id, username, session_id, action, page, timestamp, metadata
		FROM interaction_events
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "query user events", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *ClickHouseEventStore) EventsByPage(ctx context.Context, page string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT event_id, user_id, username, session_id, action, page, timestamp, metadata
		FROM interaction_events
		WHERE page = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, page, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "query page events", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var (
			event    models.Event
			action   string
			ts       time.Time
			metadata string
		)
		if err := rows.Scan(
			&event.EventID,
			&event.UserID,
			&event.Username,
			&event.SessionID,
			&action,
			&event.Page,
			&ts,
			&metadata,
		); err != nil {
			log.Printf("Error scanning event row: %v", err)
			continue
		}
		event.Action = models.Action(action)
		event.Timestamp = ts
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				log.Printf("Error decoding metadata for event %s: %v", event.EventID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "iterate event rows", Err: err}
	}
	return events, nil
}
