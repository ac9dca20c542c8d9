// Package ocr defines the contract every text-extraction engine satisfies.
package ocr

import "context"

// Document is the raw input handed to an OCR engine.
type Document struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Token is a single recognized word. Confidence is nil when the engine did not report one.
type Token struct {
	Content    string
	Confidence *float64
}

// Page groups the tokens recognized on one page, in reading order.
type Page struct {
	Number int
	Tokens []Token
}

// Result is the output of one OCR call.
type Result struct {
	Text      string
	Pages     []Page
	PageCount int
}

// Confidences returns every reported token confidence across all pages, in order.
func (r Result) Confidences() []float64 {
	var out []float64
	for _, p := range r.Pages {
		for _, t := range p.Tokens {
			if t.Confidence != nil {
				out = append(out, *t.Confidence)
			}
		}
	}
	return out
}

// Client extracts text from document bytes.
type Client interface {
	Name() string
	// IsConfigured reports whether the client was built with usable credentials.
	IsConfigured() bool
	Extract(ctx context.Context, doc Document) (Result, error)
}
