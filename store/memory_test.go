package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricely/telemetry/models"
)

var baseTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestStartSession_SupersedesActive(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	_, err := s.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	_, err = s.StartSession(ctx, "u1", "User One", "sess-b", baseTime.Add(time.Minute))
	require.NoError(t, err)

	active, err := s.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sess-b", active.SessionID)

	// The superseded session is already closed; ending it again is a no-op.
	count, err := s.EndSessions(ctx, "u1", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestEndSessions_IdempotentAndScoped(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	_, err := s.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)
	_, err = s.StartSession(ctx, "u2", "User Two", "sess-x", baseTime)
	require.NoError(t, err)

	count, err := s.EndSessions(ctx, "u1", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Re-ending is a no-op success, not an error.
	count, err = s.EndSessions(ctx, "u1", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// The other user's session is untouched.
	active, err := s.ActiveSession(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sess-x", active.SessionID)
	assert.Nil(t, active.EndTime)
}

func TestEndSessions_UnscopedEndsAll(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	_, err := s.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	count, err := s.EndSessions(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	active, err := s.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConcurrentStarts_AtMostOneActive(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.StartSession(ctx, "u1", "User One", fmt.Sprintf("sess-%d", i), baseTime.Add(time.Duration(i)*time.Millisecond))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := s.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)

	// Exactly one session survived active.
	count, err := s.EndSessions(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEnsureActive_OpensUnknownSession(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	_, err := s.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	// An event for an unknown session supersedes the current one.
	err = s.EnsureActive(ctx, "u1", "User One", "sess-b", baseTime.Add(time.Minute))
	require.NoError(t, err)

	active, err := s.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sess-b", active.SessionID)
}

func TestEnsureActive_TouchesKnownSession(t *testing.T) {
	s := NewMemSessionStore()
	ctx := context.Background()

	_, err := s.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	seenAt := baseTime.Add(5 * time.Minute)
	err = s.EnsureActive(ctx, "u1", "User One", "sess-a", seenAt)
	require.NoError(t, err)

	active, err := s.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sess-a", active.SessionID)
	assert.Equal(t, seenAt, active.LastSeenAt)
	assert.Equal(t, baseTime, active.StartTime)
}

func TestEventsBySession_AscendingOrder(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	// Inserted out of order on purpose.
	for i, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		err := s.Insert(ctx, &models.Event{
			EventID:   fmt.Sprintf("e%d", i),
			UserID:    "u1",
			SessionID: "sess-a",
			Action:    models.ActionPageView,
			Page:      "/",
			Timestamp: baseTime.Add(offset),
		})
		require.NoError(t, err)
	}

	events, err := s.EventsBySession(ctx, "sess-a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"replay must be in non-decreasing timestamp order")
	}
}

func TestEventsByUser_NewestFirstWithLimit(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Insert(ctx, &models.Event{
			EventID:   fmt.Sprintf("e%d", i),
			UserID:    "u1",
			Action:    models.ActionPageView,
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := s.EventsByUser(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].EventID)
	assert.Equal(t, "e2", events[2].EventID)
}
