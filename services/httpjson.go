package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// jsonCaller performs JSON requests with exponential backoff on transport
// errors, 429 and 5xx responses. Other statuses fail immediately.
type jsonCaller struct {
	service  string
	client   *http.Client
	attempts int
	header   http.Header
	logger   *slog.Logger

	// idempotencyKeys sends one Idempotency-Key per logical call, reused across retries.
	idempotencyKeys bool
	// initialInterval is the first backoff delay; tests shrink it.
	initialInterval time.Duration
}

func (c *jsonCaller) do(ctx context.Context, method, url string, in, out any) error {
	return c.call(ctx, c.attempts, method, url, in, out)
}

// doOnce sends a single request. Used for calls that are not safe to repeat
// when a response is lost, such as creating a tracker competition.
func (c *jsonCaller) doOnce(ctx context.Context, method, url string, in, out any) error {
	return c.call(ctx, 1, method, url, in, out)
}

func (c *jsonCaller) call(ctx context.Context, attempts int, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", c.service, err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	if c.initialInterval > 0 {
		policy.InitialInterval = c.initialInterval
	}
	attempts = max(attempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	idempotencyKey := ""
	if c.idempotencyKeys && method != http.MethodGet {
		idempotencyKey = uuid.NewString()
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range c.header {
			req.Header[k] = v
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			se := &StatusError{Service: c.service, Status: resp.StatusCode, Body: truncate(string(raw), 512)}
			if retryableStatus(resp.StatusCode) {
				return se
			}
			return backoff.Permanent(se)
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", c.service, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("upstream call failed, retrying", "service", c.service, "method", method, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, b, notify)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
