package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"medreport-backend/internal/shared/telemetry"
)

const retryBaseDelay = 300 * time.Millisecond

type retrying struct {
	base      Client
	retries   int
	baseDelay time.Duration
}

// WithRetry wraps c so transient failures are retried up to retries times with
// linear backoff. retries <= 0 returns c unchanged.
func WithRetry(c Client, retries int) Client {
	if c == nil || retries <= 0 {
		return c
	}
	return &retrying{base: c, retries: retries, baseDelay: retryBaseDelay}
}

func (r *retrying) Name() string       { return r.base.Name() }
func (r *retrying) IsConfigured() bool { return r.base.IsConfigured() }

func (r *retrying) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := r.base.Complete(ctx, systemPrompt, userPrompt)
	for attempt := 1; attempt <= r.retries && err != nil && ShouldRetry(err); attempt++ {
		telemetry.Warn("llm.retry", map[string]any{
			"provider": r.base.Name(),
			"attempt":  attempt,
			"error":    err.Error(),
		})
		select {
		case <-time.After(time.Duration(attempt) * r.baseDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		out, err = r.base.Complete(ctx, systemPrompt, userPrompt)
	}
	return out, err
}

// ShouldRetry reports whether err looks transient.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "http status 429") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}
