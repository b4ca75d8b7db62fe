// api/handlers/track_handlers.go
package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"pricely/telemetry/models"
	"pricely/telemetry/store"
	"pricely/telemetry/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TrackHandlers struct {
	Events   store.EventStore
	Sessions store.SessionStore
}

func NewTrackHandlers(events store.EventStore, sessions store.SessionStore) *TrackHandlers {
	return &TrackHandlers{
		Events:   events,
		Sessions: sessions,
	}
}

// TrackEvent ingests a single interaction event: validate, bookkeep the
// session, append to the event store. Session-transition failures are logged
// but never block the write; capturing the event wins over strict session
// bookkeeping.
func (h *TrackHandlers) TrackEvent(c *gin.Context) {
	var payload models.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("Error binding incoming event JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	// Unauthenticated instrumentation is accepted and tagged anonymous.
	if payload.UserID == "" {
		payload.UserID = principalOrAnonymous(c)
	}
	if payload.Username == "" {
		payload.Username = c.GetString("user_name")
	}

	event, err := models.ValidateEvent(payload, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	event.EventID = uuid.New().String()
	if event.Metadata == nil {
		event.Metadata = models.Metadata{}
	}
	event.Metadata["ip"] = c.ClientIP()
	if _, ok := event.Metadata["userAgent"]; !ok {
		event.Metadata["userAgent"] = utils.DefaultString(c.Request.UserAgent(), "unknown")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if event.SessionID != "" {
		if err := h.Sessions.EnsureActive(ctx, event.UserID, event.Username, event.SessionID, event.Timestamp); err != nil {
			log.Printf("Session bookkeeping failed for session %s: %v", event.SessionID, err)
		}
	}

	if err := h.Events.Insert(ctx, event); err != nil {
		log.Printf("Error inserting event into ClickHouse: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to record event"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "event": event})
}

// NewSession pre-registers a session before its first ordinary event arrives,
// closing any session previously active for the user.
func (h *TrackHandlers) NewSession(c *gin.Context) {
	var payload models.SessionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("Error binding incoming session JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	if payload.UserID == "" {
		payload.UserID = principalOrAnonymous(c)
	}
	if payload.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": (&models.ValidationError{Field: "sessionId", Reason: "must not be empty"}).Error()})
		return
	}

	startedAt := time.Now().UTC()
	if payload.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": (&models.ValidationError{Field: "timestamp", Reason: "must be RFC3339"}).Error()})
			return
		}
		startedAt = parsed.UTC()
	}

	username := utils.DefaultString(payload.Username, payload.UserID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	session, err := h.Sessions.StartSession(ctx, payload.UserID, username, payload.SessionID, startedAt)
	if err != nil {
		log.Printf("Error registering session %s: %v", payload.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to register new session"})
		return
	}

	// Mirror the registration into the event stream so session_start shows up
	// in activity counts. Best effort; the session record is the source of
	// truth for lifecycle.
	startEvent := &models.Event{
		EventID:   uuid.New().String(),
		UserID:    payload.UserID,
		Username:  username,
		SessionID: payload.SessionID,
		Action:    models.ActionSessionStart,
		Page:      "/",
		Timestamp: startedAt,
		Metadata: models.Metadata{
			"userAgent": utils.DefaultString(c.Request.UserAgent(), "unknown"),
			"ip":        c.ClientIP(),
		},
	}
	if err := h.Events.Insert(ctx, startEvent); err != nil {
		log.Printf("Error recording session_start event for session %s: %v", payload.SessionID, err)
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "session": session})
}

// EndSession marks the user's active sessions inactive, scoped to one
// sessionId when the body supplies it. Ending an already-ended session is a
// no-op success.
func (h *TrackHandlers) EndSession(c *gin.Context) {
	userID := c.Param("userId")

	var payload models.EndSessionPayload
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		// An empty body is fine; it means "end all active sessions".
		log.Printf("Ignoring malformed end-session body for user %s: %v", userID, err)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	count, err := h.Sessions.EndSessions(ctx, userID, payload.SessionID)
	if err != nil {
		log.Printf("Error ending sessions for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to end session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "endedCount": count})
}

// ActiveSession answers with the user's active session, or null when none
// exists. A missing session is not an error on the read path.
func (h *TrackHandlers) ActiveSession(c *gin.Context) {
	userID := c.Param("userId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	session, err := h.Sessions.ActiveSession(ctx, userID)
	if err != nil {
		log.Printf("Error fetching active session for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to fetch active session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "session": session})
}

// SessionEvents replays all events of one session in chronological order.
func (h *TrackHandlers) SessionEvents(c *gin.Context) {
	sessionID := c.Param("sessionId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := h.Events.EventsBySession(ctx, sessionID)
	if err != nil {
		log.Printf("Error fetching events for session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to fetch session events"})
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "events": events})
}

// UserEvents returns a user's most recent events, newest first.
func (h *TrackHandlers) UserEvents(c *gin.Context) {
	userID := c.Param("userId")

	limit, ok := eventLimit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := h.Events.EventsByUser(ctx, userID, limit)
	if err != nil {
		log.Printf("Error fetching events for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to fetch user events"})
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "events": events})
}

// PageEvents returns the most recent events captured on one page, newest
// first. The path arrives as a wildcard so nested page paths keep their
// slashes.
func (h *TrackHandlers) PageEvents(c *gin.Context) {
	page := c.Param("pagePath")

	limit, ok := eventLimit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := h.Events.EventsByPage(ctx, page, limit)
	if err != nil {
		log.Printf("Error fetching events for page %s: %v", page, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to fetch page events"})
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "events": events})
}

// eventLimit parses the optional ?limit query for event reads. Missing means
// 100; anything above 100 is clamped, not rejected. Returns false after
// writing the error response when the value is unparseable.
func eventLimit(c *gin.Context) (int, bool) {
	limit := 100
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid 'limit' parameter. Must be a positive integer."})
			return 0, false
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}
	return limit, true
}

// principalOrAnonymous resolves the acting identity set by the Identify
// middleware, falling back to the anonymous sentinel.
func principalOrAnonymous(c *gin.Context) string {
	if email := c.GetString("user_email"); email != "" {
		return email
	}
	return models.AnonymousUser
}
