// api/internal/store/analytics_store.go
package store

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"pricely/telemetry/database"
	"pricely/telemetry/models"
)

// ClickHouseSummarizer answers the named reporting queries against the
// interaction_events table. Every query is read-only and computed from the
// full event history for its scope; results are disposable and always
// recomputable.
type ClickHouseSummarizer struct {
	DB *database.ClickHouseClient
}

func NewClickHouseSummarizer(chClient *database.ClickHouseClient) *ClickHouseSummarizer {
	return &ClickHouseSummarizer{DB: chClient}
}

// userScope builds the optional per-user WHERE fragment. An empty userID
// scopes the query globally.
func userScope(userID string, args []interface{}) (string, []interface{}) {
	if userID == "" {
		return "", args
	}
	return " AND user_id = ?", append(args, userID)
}

func (s *ClickHouseSummarizer) ActivityCounts(ctx context.Context, userID string) ([]ActivityCount, error) {
	args := []interface{}{}
	scope, args := userScope(userID, args)

	query := fmt.Sprintf(`
		SELECT action, count() AS total
		FROM interaction_events
		WHERE 1 = 1%s
		GROUP BY action
		ORDER BY total DESC
	`, scope)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query activity counts", Err: err}
	}
	defer rows.Close()

	var results []ActivityCount
	for rows.Next() {
		var action string
		var count uint64
		if err := rows.Scan(&action, &count); err != nil {
			log.Printf("Error scanning row for activity counts: %v", err)
			continue
		}
		results = append(results, ActivityCount{Action: models.Action(action), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "iterate activity counts", Err: err}
	}
	return results, nil
}

func (s *ClickHouseSummarizer) PageDurations(ctx context.Context, userID string) ([]PageDurationStat, error) {
	args := []interface{}{string(models.ActionPageDuration)}
	scope, args := userScope(userID, args)

	query := fmt.Sprintf(`
		SELECT page,
		       avg(JSONExtractFloat(metadata, 'durationMs')) AS avg_duration,
		       count() AS total_views
		FROM interaction_events
		WHERE action = ? AND JSONHas(metadata, 'durationMs')%s
		GROUP BY page
		ORDER BY total_views DESC
	`, scope)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query page durations", Err: err}
	}
	defer rows.Close()

	var results []PageDurationStat
	for rows.Next() {
		var stat PageDurationStat
		if err := rows.Scan(&stat.Page, &stat.AvgDurationMs, &stat.Views); err != nil {
			log.Printf("Error scanning row for page durations: %v", err)
			continue
		}
		// avg() yields NaN over an empty group, which JSON cannot carry.
		if math.IsNaN(stat.AvgDurationMs) {
			stat.AvgDurationMs = 0
		}
		results = append(results, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "iterate page durations", Err: err}
	}
	return results, nil
}

func (s *ClickHouseSummarizer) TopEntities(ctx context.Context, userID string, action models.Action, idKey, nameKey string, limit uint64) ([]TopEntity, error) {
	// The metadata keys end up interpolated into the statement, so anything
	// beyond a plain identifier is rejected outright.
	if !validMetadataKey(idKey) {
		return nil, fmt.Errorf("metadata key %q is not usable for ranking", idKey)
	}
	if !validMetadataKey(nameKey) {
		return nil, fmt.Errorf("metadata key %q is not usable for ranking", nameKey)
	}
	if limit == 0 {
		limit = 10
	}

	args := []interface{}{string(action)}
	scope, args := userScope(userID, args)
	args = append(args, limit)

	// The metadata keys are interpolated, not bound: ClickHouse JSON
	// functions take the path as part of the statement.
	query := fmt.Sprintf(`
		SELECT JSONExtractString(metadata, '%s') AS entity_id,
		       argMax(JSONExtractString(metadata, '%s'), timestamp) AS entity_name,
		       count() AS hits
		FROM interaction_events
		WHERE action = ? AND JSONHas(metadata, '%s')%s
		GROUP BY entity_id
		ORDER BY hits DESC
		LIMIT ?
	`, idKey, nameKey, idKey, scope)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query top entities", Err: err}
	}
	defer rows.Close()

	var results []TopEntity
	for rows.Next() {
		var entity TopEntity
		if err := rows.Scan(&entity.EntityID, &entity.Name, &entity.Count); err != nil {
			log.Printf("Error scanning row for top entities: %v", err)
			continue
		}
		results = append(results, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "iterate top entities", Err: err}
	}
	return results, nil
}

// validMetadataKey reports whether key is a bare identifier safe to embed in
// a JSON path.
func validMetadataKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

func (s *ClickHouseSummarizer) PhoneHistory(ctx context.Context, userID string) ([]PhoneHistoryEntry, error) {
	args := []interface{}{string(models.ActionPhoneView)}
	scope, args := userScope(userID, args)

	query := fmt.Sprintf(`
		SELECT JSONExtractString(metadata, 'phoneId') AS phone_id,
		       argMax(JSONExtractString(metadata, 'phoneName'), timestamp) AS phone_name,
		       count() AS view_count,
		       min(timestamp) AS first_viewed,
		       max(timestamp) AS last_viewed,
		       uniqExact(session_id) AS session_count
		FROM interaction_events
		WHERE action = ? AND JSONHas(metadata, 'phoneId')%s
		GROUP BY phone_id
		ORDER BY view_count DESC
	`, scope)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query phone history", Err: err}
	}
	defer rows.Close()

	var results []PhoneHistoryEntry
	for rows.Next() {
		var (
			entry       PhoneHistoryEntry
			firstViewed time.Time
			lastViewed  time.Time
		)
		if err := rows.Scan(&entry.PhoneID, &entry.PhoneName, &entry.ViewCount, &firstViewed, &lastViewed, &entry.SessionCount); err != nil {
			log.Printf("Error scanning row for phone history: %v", err)
			continue
		}
		entry.FirstViewed = firstViewed
		entry.LastViewed = lastViewed
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "iterate phone history", Err: err}
	}
	return results, nil
}
