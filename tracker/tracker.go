// Package tracker is the client-side instrumentation of the telemetry
// pipeline. A Tracker observes interaction surfaces for one logical page
// context and emits events without ever blocking the interaction itself:
// sends are fire-and-forget, failures are logged and swallowed.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"pricely/telemetry/models"
	"pricely/telemetry/utils"
)

// SessionStorageKey is where the tracker keeps its session token.
const SessionStorageKey = "activity_session_id"

const defaultQueueSize = 64

// Config assembles a Tracker's collaborators. Only Sender is required.
type Config struct {
	UserID   string
	Username string

	// Page, when set, is tracked as the initial page view.
	Page      string
	PageTitle string
	Referrer  string

	Sender    Sender
	Storage   SessionStorage
	Logger    *log.Logger
	Now       func() time.Time
	QueueSize int
}

// Tracker owns one user/session context. Construct it explicitly and inject
// it where interactions are observed; there is no package-level instance.
type Tracker struct {
	userID   string
	username string
	sender   Sender
	storage  SessionStorage
	logger   *log.Logger
	now      func() time.Time

	queue     chan queuedEvent
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	closed        bool
	sessionID     string
	page          string
	pageVisibleAt time.Time
	scrollFired   map[int]bool
	fieldID       string
	fieldType     string
	fieldFocusAt  time.Time
}

type queuedEvent struct {
	payload models.EventPayload
	flushed chan struct{}
}

// New builds a Tracker, resolving or minting the session token. A fresh
// session is registered with the server immediately, before any ordinary
// event can arrive, so the server never sees an event for an unknown session.
func New(cfg Config) (*Tracker, error) {
	if cfg.Sender == nil {
		return nil, &models.ValidationError{Field: "sender", Reason: "must not be nil"}
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.UserID == "" {
		cfg.UserID = models.AnonymousUser
	}
	if cfg.Username == "" {
		cfg.Username = cfg.UserID
	}

	t := &Tracker{
		userID:      cfg.UserID,
		username:    cfg.Username,
		sender:      cfg.Sender,
		storage:     cfg.Storage,
		logger:      cfg.Logger,
		now:         cfg.Now,
		queue:       make(chan queuedEvent, cfg.QueueSize),
		done:        make(chan struct{}),
		scrollFired: make(map[int]bool),
	}

	sessionID, ok := t.storage.Get(SessionStorageKey)
	if !ok || sessionID == "" {
		sessionID = utils.GenerateSessionID()
		t.storage.Set(SessionStorageKey, sessionID)
		t.notifyNewSession(sessionID)
	}
	t.sessionID = sessionID

	go t.sendLoop()

	if cfg.Page != "" {
		t.PageView(cfg.Page, cfg.PageTitle, cfg.Referrer)
	}
	return t, nil
}

// notifyNewSession registers a freshly minted session, out-of-band from the
// queued event stream. Failure is logged and swallowed; the server will
// reconcile an orphan session on the first event it sees.
func (t *Tracker) notifyNewSession(sessionID string) {
	err := t.sender.RegisterSession(context.Background(), models.SessionPayload{
		UserID:    t.userID,
		Username:  t.username,
		SessionID: sessionID,
		Timestamp: t.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.logger.Printf("Failed to register new session: %v", err)
	}
}

// SessionID returns the current session token, or "" after EndSession.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Track emits an event for one observed interaction.
func (t *Tracker) Track(interaction Interaction) {
	t.enqueue(interaction.Action(), t.currentPage(), interaction.Metadata())
}

// PageView starts a new page context: resets scroll-depth state and the
// visibility clock, then emits a page_view event.
func (t *Tracker) PageView(page, title, referrer string) {
	t.mu.Lock()
	t.page = page
	t.pageVisibleAt = t.now()
	t.scrollFired = make(map[int]bool)
	t.mu.Unlock()

	t.enqueue(models.ActionPageView, page, models.Metadata{
		"pageTitle": title,
		"referrer":  orDefault(referrer, "direct"),
	})
}

// OnScroll records scroll position as a percentage of page height. Depth
// events fire at most once per 25% bucket per page view; a jump across
// several thresholds fires each exactly once.
func (t *Tracker) OnScroll(percent int) {
	t.mu.Lock()
	var crossed []int
	for _, bucket := range []int{25, 50, 75, 100} {
		if percent >= bucket && !t.scrollFired[bucket] {
			t.scrollFired[bucket] = true
			crossed = append(crossed, bucket)
		}
	}
	page := t.page
	t.mu.Unlock()

	for _, bucket := range crossed {
		t.enqueue(models.ActionScrollDepth, page, models.Metadata{"depth": bucket})
	}
}

// OnFieldFocus opens a focus cycle for a form field.
func (t *Tracker) OnFieldFocus(fieldID, fieldType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fieldID = orUnknown(fieldID)
	t.fieldType = orDefault(fieldType, "text")
	t.fieldFocusAt = t.now()
}

// OnFieldBlur closes the focus cycle and emits one field_interaction with the
// elapsed milliseconds. Blur without a matching focus is a no-op.
func (t *Tracker) OnFieldBlur() {
	t.mu.Lock()
	if t.fieldFocusAt.IsZero() {
		t.mu.Unlock()
		return
	}
	elapsed := t.now().Sub(t.fieldFocusAt)
	metadata := models.Metadata{
		"fieldId":    t.fieldID,
		"fieldType":  t.fieldType,
		"durationMs": elapsed.Milliseconds(),
	}
	page := t.page
	t.fieldID = ""
	t.fieldType = ""
	t.fieldFocusAt = time.Time{}
	t.mu.Unlock()

	t.enqueue(models.ActionFieldInteraction, page, metadata)
}

// OnVisibilityChange tracks the page becoming hidden or visible. Hiding emits
// the accumulated page_duration; becoming visible restarts the clock.
func (t *Tracker) OnVisibilityChange(hidden bool) {
	if hidden {
		t.flushPageDuration()
		return
	}
	t.mu.Lock()
	t.pageVisibleAt = t.now()
	t.mu.Unlock()
}

// OnUnload emits the final page_duration as the page context is torn down.
func (t *Tracker) OnUnload() {
	t.flushPageDuration()
}

// flushPageDuration sends the visible wall-clock delta with teardown-safe
// delivery, bypassing the queue: the queue worker may never get another turn
// once the page is closing.
func (t *Tracker) flushPageDuration() {
	t.mu.Lock()
	if t.pageVisibleAt.IsZero() {
		t.mu.Unlock()
		return
	}
	elapsed := t.now().Sub(t.pageVisibleAt)
	t.pageVisibleAt = time.Time{}
	payload := t.buildPayload(models.ActionPageDuration, t.page, models.Metadata{
		"durationMs":      elapsed.Milliseconds(),
		"durationSeconds": int64(elapsed.Seconds()),
	})
	t.mu.Unlock()

	if err := t.sender.SendEvent(context.Background(), payload, DeliveryTeardown); err != nil {
		t.logger.Printf("Failed to send page_duration: %v", err)
	}
}

// EndSession explicitly ends the active session (e.g. on logout). Local
// session state is cleared even when the server notification fails; local
// truth wins for restart purposes.
func (t *Tracker) EndSession(ctx context.Context) {
	t.mu.Lock()
	sessionID := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()

	if sessionID != "" {
		if err := t.sender.EndSession(ctx, t.userID, sessionID); err != nil {
			t.logger.Printf("Failed to end session on server: %v", err)
		}
	}
	t.storage.Remove(SessionStorageKey)
}

// Flush blocks until every queued event has been handed to the sender. After
// Close it is a no-op.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	marker := queuedEvent{flushed: make(chan struct{})}
	t.queue <- marker
	t.mu.Unlock()
	<-marker.flushed
}

// Close flushes the queue and stops the send worker. Events tracked after
// Close are dropped, not a panic.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.Flush()
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
		<-t.done
	})
}

func (t *Tracker) currentPage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

func (t *Tracker) buildPayload(action models.Action, page string, metadata models.Metadata) models.EventPayload {
	return models.EventPayload{
		UserID:    t.userID,
		Username:  t.username,
		SessionID: t.sessionID,
		Action:    string(action),
		Page:      orUnknown(page),
		Timestamp: t.now().UTC().Format(time.RFC3339Nano),
		Metadata:  metadata,
	}
}

// enqueue hands an event to the send worker without blocking the caller.
// When the queue is full or the tracker is closed the event is dropped and
// the drop logged. The send happens under the mutex so Close cannot close the
// channel out from under it.
func (t *Tracker) enqueue(action models.Action, page string, metadata models.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Printf("Tracker closed, dropping %s event", action)
		return
	}
	payload := t.buildPayload(action, page, metadata)
	select {
	case t.queue <- queuedEvent{payload: payload}:
	default:
		t.logger.Printf("Telemetry queue full, dropping %s event", action)
	}
}

func (t *Tracker) sendLoop() {
	for q := range t.queue {
		if q.flushed != nil {
			close(q.flushed)
			continue
		}
		if err := t.sender.SendEvent(context.Background(), q.payload, DeliveryDefault); err != nil {
			t.logger.Printf("Failed to send %s event: %v", q.payload.Action, err)
		}
	}
	close(t.done)
}
