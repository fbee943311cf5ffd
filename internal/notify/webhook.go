// Package notify delivers outbound event notifications.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/signing"
)

const DefaultTimeout = 10 * time.Second

// StatusError reports a non-2xx response from a receiver.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
}

// Sender posts a signed JSON body to a receiver URL.
type Sender interface {
	Send(ctx context.Context, url, secret string, body []byte) (int, error)
}

type WebhookSender struct {
	client *http.Client
	now    func() time.Time
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}, now: time.Now}
}

// Send returns the receiver status code. Anything outside 2xx is an error.
func (s *WebhookSender) Send(ctx context.Context, url, secret string, body []byte) (int, error) {
	codec, err := signing.New(secret, signing.WithClock(s.now))
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "leadmarket-webhooks/1")
	req.Header.Set(signing.HeaderName, codec.Sign(body))
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
