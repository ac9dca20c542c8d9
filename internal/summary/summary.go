// Package summary rewrites noisy OCR text into a readable clinical summary.
// When the model is unavailable the raw text is returned unchanged.
package summary

import (
	"context"
	"strings"
	"time"

	"medreport-backend/internal/enrich"
	"medreport-backend/internal/llm"
	"medreport-backend/internal/shared/metrics"
)

const (
	SourceLLM         = "llm"
	SourcePassthrough = "passthrough"

	// DefaultMaxInputChars bounds the text prefix sent to the model.
	DefaultMaxInputChars = 3000
)

type LLMStrategy struct {
	Client        llm.Client
	MaxInputChars int
}

func (LLMStrategy) Name() string { return SourceLLM }

func (s LLMStrategy) Run(ctx context.Context, text string) (string, error) {
	if !llm.IsConfigured(s.Client) {
		return "", llm.ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return "", enrich.ErrNoResult
	}
	limit := s.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	system, _ := llm.SystemPrompt(llm.PromptSummary)
	out, err := s.Client.Complete(ctx, system, prefix(text, limit))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", enrich.ErrNoResult
	}
	return out, nil
}

// Passthrough returns its input untouched.
type Passthrough struct{}

func (Passthrough) Name() string { return SourcePassthrough }

func (Passthrough) Run(_ context.Context, text string) (string, error) {
	return text, nil
}

type Options struct {
	MaxInputChars int
	Timeout       time.Duration
}

type Generator struct {
	chain enrich.Chain[string]
}

func NewGenerator(client llm.Client, opts Options) *Generator {
	return &Generator{
		chain: enrich.Chain[string]{
			Component: metrics.ComponentSummary,
			Timeout:   opts.Timeout,
			Strategies: []enrich.Strategy[string]{
				LLMStrategy{Client: client, MaxInputChars: opts.MaxInputChars},
				Passthrough{},
			},
		},
	}
}

// Generate always returns a text: the model's summary, or text itself.
func (g *Generator) Generate(ctx context.Context, text string) (string, string) {
	res, err := g.chain.Run(ctx, text)
	if err != nil {
		return text, SourcePassthrough
	}
	return res.Value, res.Source
}

func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
