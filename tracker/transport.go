package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pricely/telemetry/models"
)

// DeliveryMode selects how an outbound send relates to the page lifecycle.
type DeliveryMode int

const (
	// DeliveryDefault sends are ordinary fire-and-forget calls that may be
	// cancelled along with the page context.
	DeliveryDefault DeliveryMode = iota

	// DeliveryTeardown sends must be attempted even while the page context is
	// closing; the transport detaches them from cancellation.
	DeliveryTeardown
)

// Sender is the tracker's outbound transport.
type Sender interface {
	SendEvent(ctx context.Context, payload models.EventPayload, mode DeliveryMode) error
	RegisterSession(ctx context.Context, payload models.SessionPayload) error
	EndSession(ctx context.Context, userID, sessionID string) error
}

// HTTPSender posts to the telemetry ingestion API.
type HTTPSender struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
}

func NewHTTPSender(baseURL, authToken string) *HTTPSender {
	return &HTTPSender{
		BaseURL:   baseURL,
		AuthToken: authToken,
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSender) SendEvent(ctx context.Context, payload models.EventPayload, mode DeliveryMode) error {
	return s.post(ctx, "/api/events", payload, mode)
}

func (s *HTTPSender) RegisterSession(ctx context.Context, payload models.SessionPayload) error {
	return s.post(ctx, "/api/sessions", payload, DeliveryDefault)
}

func (s *HTTPSender) EndSession(ctx context.Context, userID, sessionID string) error {
	body := models.EndSessionPayload{SessionID: sessionID}
	return s.post(ctx, "/api/sessions/"+userID+"/end", body, DeliveryDefault)
}

func (s *HTTPSender) post(ctx context.Context, path string, body any, mode DeliveryMode) error {
	if mode == DeliveryTeardown {
		// Teardown-safe delivery: the request outlives the page context.
		ctx = context.WithoutCancel(ctx)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server rejected %s: status %d", path, resp.StatusCode)
	}
	return nil
}
