package llm

import (
	"context"
	"errors"
)

// Client is a text-completion backend used for summaries and key phrases.
type Client interface {
	Name() string
	IsConfigured() bool
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNotConfigured is returned by a client that has no credentials.
var ErrNotConfigured = errors.New("llm not configured")

// NotConfigured stands in when no provider is set up. Every call fails fast so
// enrichment falls back to its deterministic strategy.
type NotConfigured struct {
	Provider string
}

func (n NotConfigured) Name() string {
	if n.Provider == "" {
		return "none"
	}
	return n.Provider
}

func (NotConfigured) IsConfigured() bool { return false }

func (NotConfigured) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

// IsConfigured reports whether c is non-nil and has credentials.
func IsConfigured(c Client) bool {
	return c != nil && c.IsConfigured()
}

var _ Client = NotConfigured{}
