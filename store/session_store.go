package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/lib/pq"

	"pricely/telemetry/models"
)

// PostgresSessionStore keeps session records in PostgreSQL. The at-most-one-
// active invariant is enforced by a partial unique index on (user_id) WHERE
// is_active, so a race between two concurrent opens surfaces as a unique
// violation instead of a duplicate active session.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// EnsureSchema creates the sessions table and its indexes.
func (s *PostgresSessionStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id   TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			username     TEXT NOT NULL DEFAULT '',
			start_time   TIMESTAMPTZ NOT NULL,
			end_time     TIMESTAMPTZ,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			last_seen_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
			ON sessions (user_id) WHERE is_active;`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_started
			ON sessions (user_id, start_time DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &models.StorageError{Op: "ensure sessions schema", Err: err}
		}
	}
	return nil
}

func (s *PostgresSessionStore) StartSession(ctx context.Context, userID, username, sessionID string, startedAt time.Time) (*models.Session, error) {
	// Two attempts: if a concurrent open wins the race and trips the partial
	// unique index, the retry closes it first. Most-recently-started wins.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.startSessionOnce(ctx, userID, username, sessionID, startedAt)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if !isUniqueViolation(err) {
			break
		}
		log.Printf("Concurrent session open for user %s detected, retrying", userID)
	}
	return nil, &models.StorageError{Op: "start session", Err: lastErr}
}

func (s *PostgresSessionStore) startSessionOnce(ctx context.Context, userID, username, sessionID string, startedAt time.Time) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE, end_time = $2, last_seen_at = $2
		WHERE user_id = $1 AND is_active;
	`, userID, startedAt)
	if err != nil {
		return nil, err
	}

	// Re-registering a known session id reactivates it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, username, start_time, end_time, is_active, last_seen_at)
		VALUES ($1, $2, $3, $4, NULL, TRUE, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET is_active = TRUE, end_time = NULL, last_seen_at = EXCLUDED.last_seen_at;
	`, sessionID, userID, username, startedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Session{
		SessionID:  sessionID,
		UserID:     userID,
		Username:   username,
		StartTime:  startedAt,
		IsActive:   true,
		LastSeenAt: startedAt,
	}, nil
}

func (s *PostgresSessionStore) EnsureActive(ctx context.Context, userID, username, sessionID string, seenAt time.Time) error {
	// Single conditional UPDATE is the compare-and-set: it only succeeds when
	// the session is already active for this user.
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_seen_at = $3
		WHERE session_id = $1 AND user_id = $2 AND is_active;
	`, sessionID, userID, seenAt)
	if err != nil {
		return &models.StorageError{Op: "touch session", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = s.StartSession(ctx, userID, username, sessionID, seenAt)
	return err
}

func (s *PostgresSessionStore) EndSessions(ctx context.Context, userID, sessionID string) (int64, error) {
	query := `
		UPDATE sessions
		SET is_active = FALSE, end_time = NOW(), last_seen_at = NOW()
		WHERE user_id = $1 AND is_active
	`
	args := []interface{}{userID}
	if sessionID != "" {
		query += ` AND session_id = $2`
		args = append(args, sessionID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &models.StorageError{Op: "end sessions", Err: err}
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, &models.StorageError{Op: "end sessions", Err: err}
	}
	return count, nil
}

func (s *PostgresSessionStore) ActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	session := &models.Session{}
	var endTime sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, username, start_time, end_time, is_active, last_seen_at
		FROM sessions
		WHERE user_id = $1 AND is_active
		ORDER BY start_time DESC
		LIMIT 1;
	`, userID).Scan(
		&session.SessionID,
		&session.UserID,
		&session.Username,
		&session.StartTime,
		&endTime,
		&session.IsActive,
		&session.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &models.StorageError{Op: "lookup active session", Err: err}
	}
	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	return session, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
