package tracker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricely/telemetry/models"
)

// fakeSender records everything handed to the transport.
type fakeSender struct {
	mu        sync.Mutex
	events    []models.EventPayload
	modes     []DeliveryMode
	sessions  []models.SessionPayload
	ended     []string
	failSend  bool
	failEnd   bool
	failStart bool
}

func (f *fakeSender) SendEvent(_ context.Context, payload models.EventPayload, mode DeliveryMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("network down")
	}
	f.events = append(f.events, payload)
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeSender) RegisterSession(_ context.Context, payload models.SessionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return errors.New("network down")
	}
	f.sessions = append(f.sessions, payload)
	return nil
}

func (f *fakeSender) EndSession(_ context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnd {
		return errors.New("network down")
	}
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeSender) sentActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, len(f.events))
	for i, e := range f.events {
		actions[i] = e.Action
	}
	return actions
}

func (f *fakeSender) eventsOf(action models.Action) []models.EventPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EventPayload
	for _, e := range f.events {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock is an advanceable clock for duration assertions.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker(t *testing.T, sender *fakeSender, clock *fakeClock) *Tracker {
	t.Helper()
	tr, err := New(Config{
		UserID:   "user@example.com",
		Username: "Test User",
		Sender:   sender,
		Storage:  NewMemoryStorage(),
		Logger:   log.New(io.Discard, "", 0),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestNew_MintsAndRegistersSession(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTracker(t, sender, newFakeClock())

	require.Len(t, sender.sessions, 1)
	assert.Equal(t, tr.SessionID(), sender.sessions[0].SessionID)
	assert.Equal(t, "user@example.com", sender.sessions[0].UserID)
	assert.NotEmpty(t, tr.SessionID())
}

func TestNew_ReusesStoredSession(t *testing.T) {
	sender := &fakeSender{}
	storage := NewMemoryStorage()
	storage.Set(SessionStorageKey, "existing-session")

	tr, err := New(Config{
		UserID:  "user@example.com",
		Sender:  sender,
		Storage: storage,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, "existing-session", tr.SessionID())
	assert.Empty(t, sender.sessions, "a reused session must not be re-registered")
}

func TestNew_RequiresSender(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "sender", validationErr.Field)
}

func TestPageView_TracksInitialPage(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	tr, err := New(Config{
		UserID:    "user@example.com",
		Page:      "/catalog",
		PageTitle: "Catalog",
		Sender:    sender,
		Logger:    log.New(io.Discard, "", 0),
		Now:       clock.Now,
	})
	require.NoError(t, err)
	defer tr.Close()

	tr.Flush()
	views := sender.eventsOf(models.ActionPageView)
	require.Len(t, views, 1)
	assert.Equal(t, "/catalog", views[0].Page)
	assert.Equal(t, "Catalog", views[0].Metadata.String("pageTitle"))
	assert.Equal(t, "direct", views[0].Metadata.String("referrer"))
}

func TestOnScroll_OncePerBucket(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTracker(t, sender, newFakeClock())
	tr.PageView("/catalog", "Catalog", "")

	for _, percent := range []int{10, 24, 26, 49, 51} {
		tr.OnScroll(percent)
	}
	tr.Flush()

	depths := sender.eventsOf(models.ActionScrollDepth)
	require.Len(t, depths, 2, "only the 25%% and 50%% buckets should fire")
	d0, _ := depths[0].Metadata.Float("depth")
	d1, _ := depths[1].Metadata.Float("depth")
	assert.Equal(t, 25.0, d0)
	assert.Equal(t, 50.0, d1)
}

func TestOnScroll_JumpFiresEachCrossedBucketOnce(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTracker(t, sender, newFakeClock())
	tr.PageView("/catalog", "Catalog", "")

	tr.OnScroll(100)
	tr.OnScroll(100)
	tr.Flush()

	depths := sender.eventsOf(models.ActionScrollDepth)
	assert.Len(t, depths, 4)
}

func TestPageView_ResetsScrollBuckets(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTracker(t, sender, newFakeClock())

	tr.PageView("/a", "", "")
	tr.OnScroll(30)
	tr.PageView("/b", "", "")
	tr.OnScroll(30)
	tr.Flush()

	depths := sender.eventsOf(models.ActionScrollDepth)
	require.Len(t, depths, 2)
	assert.Equal(t, "/a", depths[0].Page)
	assert.Equal(t, "/b", depths[1].Page)
}

func TestFieldInteraction_OncePerFocusCycle(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	tr := newTestTracker(t, sender, clock)
	tr.PageView("/login", "", "")

	tr.OnFieldFocus("email", "email")
	clock.Advance(1500 * time.Millisecond)
	tr.OnFieldBlur()
	tr.OnFieldBlur() // stray blur, no open cycle
	tr.Flush()

	fields := sender.eventsOf(models.ActionFieldInteraction)
	require.Len(t, fields, 1)
	assert.Equal(t, "email", fields[0].Metadata.String("fieldId"))
	duration, ok := fields[0].Metadata.Float("durationMs")
	require.True(t, ok)
	assert.Equal(t, 1500.0, duration)
}

func TestPageDuration_TeardownSafeDelivery(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	tr := newTestTracker(t, sender, clock)
	tr.PageView("/catalog", "", "")
	tr.Flush()

	clock.Advance(42 * time.Second)
	tr.OnUnload()
	tr.OnUnload() // second unload has nothing left to report

	durations := sender.eventsOf(models.ActionPageDuration)
	require.Len(t, durations, 1)
	duration, _ := durations[0].Metadata.Float("durationMs")
	assert.Equal(t, 42000.0, duration)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	lastMode := sender.modes[len(sender.modes)-1]
	assert.Equal(t, DeliveryTeardown, lastMode, "page_duration must use teardown-safe delivery")
}

func TestVisibilityChange_RestartsClock(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	tr := newTestTracker(t, sender, clock)
	tr.PageView("/catalog", "", "")

	clock.Advance(10 * time.Second)
	tr.OnVisibilityChange(true) // hidden: 10s reported
	clock.Advance(time.Hour)    // hidden time does not count
	tr.OnVisibilityChange(false)
	clock.Advance(5 * time.Second)
	tr.OnUnload()

	durations := sender.eventsOf(models.ActionPageDuration)
	require.Len(t, durations, 2)
	d0, _ := durations[0].Metadata.Float("durationMs")
	d1, _ := durations[1].Metadata.Float("durationMs")
	assert.Equal(t, 10000.0, d0)
	assert.Equal(t, 5000.0, d1)
}

func TestEndSession_ClearsLocalStateEvenOnFailure(t *testing.T) {
	sender := &fakeSender{failEnd: true}
	storage := NewMemoryStorage()
	tr, err := New(Config{
		UserID:  "user@example.com",
		Sender:  sender,
		Storage: storage,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	defer tr.Close()

	tr.EndSession(context.Background())

	assert.Empty(t, tr.SessionID())
	_, ok := storage.Get(SessionStorageKey)
	assert.False(t, ok, "local session state must be cleared even when the server call fails")
}

func TestSendFailures_NeverPropagate(t *testing.T) {
	sender := &fakeSender{failSend: true}
	tr := newTestTracker(t, sender, newFakeClock())
	tr.PageView("/catalog", "", "")

	tr.Track(ButtonClick{ID: "buy-now", Text: "Buy Now"})
	tr.OnScroll(80)
	tr.Flush() // must not panic or block

	assert.Empty(t, sender.sentActions())
}

func TestAfterClose_EventsDroppedSilently(t *testing.T) {
	sender := &fakeSender{}
	tr, err := New(Config{
		UserID: "user@example.com",
		Sender: sender,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	tr.Close()

	tr.Track(ButtonClick{ID: "buy-now"})
	tr.OnScroll(100)
	tr.Flush() // must not panic or block on the stopped worker
	tr.Close() // idempotent

	assert.Empty(t, sender.sentActions())
}

func TestTrack_InteractionKinds(t *testing.T) {
	sender := &fakeSender{}
	tr := newTestTracker(t, sender, newFakeClock())
	tr.PageView("/catalog", "", "")

	tr.Track(ButtonClick{ID: "buy-now", Text: "Buy Now"})
	tr.Track(ProductClick{ID: "p1", Name: "Pixel 9"})
	tr.Track(PhoneView{ID: "ph1", Name: "Pixel 9 Pro"})
	tr.Track(Navigation{Text: "Home", Href: "/"})
	tr.Track(SocialClick{Platform: "fa fa-twitter"})
	tr.Track(Search{Query: "pixel", ResultCount: 3})
	tr.Flush()

	actions := sender.sentActions()
	assert.Contains(t, actions, "button_click")
	assert.Contains(t, actions, "product_click")
	assert.Contains(t, actions, "phone_view")
	assert.Contains(t, actions, "navigation")
	assert.Contains(t, actions, "social_click")
	assert.Contains(t, actions, "search")

	clicks := sender.eventsOf(models.ActionButtonClick)
	require.Len(t, clicks, 1)
	assert.Equal(t, "buy-now", clicks[0].Metadata.String("buttonId"))
	assert.Equal(t, tr.SessionID(), clicks[0].SessionID)
}
