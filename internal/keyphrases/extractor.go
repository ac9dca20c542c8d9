// Package keyphrases turns OCR text into a short list of clinical findings.
package keyphrases

import (
	"context"
	"time"

	"medreport-backend/internal/enrich"
	"medreport-backend/internal/llm"
	"medreport-backend/internal/shared/metrics"
)

// Extractor tries the model first and falls back to keyword matching.
type Extractor struct {
	keyword KeywordStrategy
	chain   enrich.Chain[[]string]
}

type Options struct {
	MaxInputChars int
	Timeout       time.Duration
}

// NewExtractor builds an extractor. A nil or unconfigured client leaves only
// the keyword path in effect.
func NewExtractor(client llm.Client, vocab *Vocabulary, opts Options) *Extractor {
	keyword := KeywordStrategy{Vocabulary: vocab}
	return &Extractor{
		keyword: keyword,
		chain: enrich.Chain[[]string]{
			Component: metrics.ComponentKeyPhrases,
			Timeout:   opts.Timeout,
			Strategies: []enrich.Strategy[[]string]{
				LLMStrategy{Client: client, MaxInputChars: opts.MaxInputChars},
				keyword,
			},
		},
	}
}

// Extract never fails. It returns between zero and MaxPhrases distinct phrases
// and the name of the strategy that produced them.
func (e *Extractor) Extract(ctx context.Context, text string) ([]string, string) {
	res, err := e.chain.Run(ctx, text)
	if err != nil {
		phrases, _ := e.keyword.Run(context.Background(), text)
		return Normalize(phrases), SourceKeyword
	}
	return Normalize(res.Value), res.Source
}
