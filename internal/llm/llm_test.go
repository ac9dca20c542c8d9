package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Name() string       { return "scripted" }
func (s *scriptedClient) IsConfigured() bool { return true }

func (s *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return "ok", nil
}

func TestNotConfigured(t *testing.T) {
	var c Client = NotConfigured{}
	if IsConfigured(c) {
		t.Fatal("expected not configured")
	}
	if IsConfigured(nil) {
		t.Fatal("nil client should not be configured")
	}
	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if c.Name() != "none" {
		t.Fatalf("unexpected name %q", c.Name())
	}
}

func TestWithRetryZeroIsPassthrough(t *testing.T) {
	base := &scriptedClient{}
	if got := WithRetry(base, 0); got != Client(base) {
		t.Fatal("expected unwrapped client")
	}
}

func TestWithRetryRecoversFromTransientError(t *testing.T) {
	base := &scriptedClient{errs: []error{fmt.Errorf("openai http status 503: busy")}}
	c := WithRetry(base, 2).(*retrying)
	c.baseDelay = time.Millisecond

	out, err := c.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || base.calls != 2 {
		t.Fatalf("expected success on second call, got out=%q calls=%d", out, base.calls)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	base := &scriptedClient{errs: []error{errors.New("openai http status 400: bad request")}}
	c := WithRetry(base, 3).(*retrying)
	c.baseDelay = time.Millisecond

	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Fatalf("expected 1 call, got %d", base.calls)
	}
}

func TestWithRetryExhausts(t *testing.T) {
	transient := errors.New("connection reset by peer")
	base := &scriptedClient{errs: []error{transient, transient, transient}}
	c := WithRetry(base, 2).(*retrying)
	c.baseDelay = time.Millisecond

	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", base.calls)
	}
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotConfigured, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("openai http status 502: bad gateway"), true},
		{errors.New("openai http status 429: rate limited"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("invalid api key"), false},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.err); got != tc.want {
			t.Fatalf("ShouldRetry(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSystemPrompt(t *testing.T) {
	for _, kind := range []string{PromptKeyPhrases, PromptSummary} {
		p, ok := SystemPrompt(kind)
		if !ok || strings.TrimSpace(p) == "" {
			t.Fatalf("missing prompt for %s", kind)
		}
	}
	if _, ok := SystemPrompt("unknown"); ok {
		t.Fatal("expected unknown kind to be rejected")
	}
}
