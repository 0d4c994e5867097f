// Package dispatch builds, signs and delivers webhook payloads over HTTP
// and classifies the outcome of each attempt.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailhook/mailhook/internal/email"
)

// DefaultTimeout bounds one webhook POST. There are no retries: an attempt
// either completes within this window or is recorded as failed.
const DefaultTimeout = 10 * time.Second

// maxErrorBodyBytes caps how much of a failed response body is kept for
// the delivery log.
const maxErrorBodyBytes = 512

// Target identifies where and how one delivery goes out.
type Target struct {
	URL    string
	Secret string // empty means the request is not signed
}

// Outcome is the classified result of a single delivery attempt.
type Outcome struct {
	// StatusCode is set whenever an HTTP response was received, even for
	// failures. It is nil on transport errors and timeouts.
	StatusCode *int

	// Err is non-nil when the attempt failed, either because no response
	// arrived or because the receiver answered with a non-2xx status.
	Err error
}

// Dispatcher performs single-shot webhook deliveries.
type Dispatcher struct {
	client *http.Client
}

// New creates a Dispatcher with the given per-request timeout. A zero or
// negative timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
	}
}

// NewWithClient creates a Dispatcher around a caller-supplied HTTP client,
// used for testing.
func NewWithClient(client *http.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Deliver serializes the message for one recipient, signs the body when
// the target has a secret, and performs one HTTP POST. A 2xx response is
// a success; a completed non-2xx exchange fails with the status code
// recorded; transport failures fail with no status code.
func (d *Dispatcher) Deliver(ctx context.Context, target Target, recipient string, msg *email.Message) Outcome {
	body, err := EncodePayload(msg, recipient)
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, target.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{Err: fmt.Errorf("webhook request failed: %w", err)}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return Outcome{StatusCode: &code}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return Outcome{
		StatusCode: &code,
		Err:        fmt.Errorf("webhook returned HTTP %d: %s", code, bytes.TrimSpace(snippet)),
	}
}
