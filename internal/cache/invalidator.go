// Package cache notifies QR display clients that the code they render is stale.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notice describes an access code state change on a target. Reason is one of
// generated, activated or deactivated.
type Notice struct {
	TargetID string    `json:"target_id"`
	CodeID   string    `json:"code_id"`
	Active   bool      `json:"active"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issued_at"`
}

// Invalidator tells QR display clients that a target's code changed.
type Invalidator interface {
	Invalidate(ctx context.Context, notice Notice) error
}

// NoopInvalidator discards notices.
type NoopInvalidator struct{}

// Invalidate performs no action.
func (NoopInvalidator) Invalidate(context.Context, Notice) error { return nil }

// HTTPInvalidator posts notices to a display refresh endpoint.
type HTTPInvalidator struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPInvalidator constructs an HTTPInvalidator. token, when set, is sent as
// a bearer credential.
func NewHTTPInvalidator(endpoint, token string, timeout time.Duration) *HTTPInvalidator {
	return &HTTPInvalidator{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Invalidate sends notice as a JSON POST. IssuedAt defaults to now.
func (h *HTTPInvalidator) Invalidate(ctx context.Context, notice Notice) error {
	if notice.IssuedAt.IsZero() {
		notice.IssuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify display for target %s: %w", notice.TargetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &InvalidationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	return nil
}

// InvalidationError reports a refused notice.
type InvalidationError struct {
	Status int
	Body   string
}

func (e *InvalidationError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("display invalidation failed: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("display invalidation failed: %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}
