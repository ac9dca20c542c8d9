// Package analysis runs one document through OCR and the enrichment stages.
// It knows nothing about persistence; callers commit the Outcome.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"medreport-backend/internal/confidence"
	"medreport-backend/internal/ocr"
	"medreport-backend/internal/shared/metrics"
	"medreport-backend/internal/shared/telemetry"
)

// Summarizer never fails; it returns the text and the source that produced it.
type Summarizer interface {
	Generate(ctx context.Context, text string) (string, string)
}

// PhraseExtractor never fails; it returns the phrases and the source that produced them.
type PhraseExtractor interface {
	Extract(ctx context.Context, text string) ([]string, string)
}

// Request is one document handed to the pipeline.
type Request struct {
	ReportID  string
	PatientID string
	Document  ocr.Document
}

// Outcome is what a successful run produces.
type Outcome struct {
	Text            string
	KeyPhrases      []string
	Confidence      *float64
	PageCount       int
	SummarySource   string
	KeyPhraseSource string
}

// Pipeline wires the OCR client and the enrichment stages. Fields are shared
// read-only across concurrent runs.
type Pipeline struct {
	OCR        ocr.Client
	Summarizer Summarizer
	Extractor  PhraseExtractor
	OCRTimeout time.Duration
}

// OCRError marks a failure of the OCR stage, the only stage that can fail a run.
type OCRError struct {
	Err error
}

func (e *OCRError) Error() string { return e.Err.Error() }
func (e *OCRError) Unwrap() error { return e.Err }

// Run performs OCR and, on success, the summary, key-phrase and confidence
// stages concurrently. Errors are *OCRError, a context error, or a recovered
// stage panic.
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	if p.OCR == nil || !p.OCR.IsConfigured() {
		var reason error = ocr.ErrServiceUnavailable
		if p.OCR != nil {
			// Let the client produce its own not-configured message.
			_, reason = p.OCR.Extract(ctx, req.Document)
			if reason == nil {
				reason = ocr.ErrServiceUnavailable
			}
		}
		return Outcome{}, &OCRError{Err: reason}
	}

	res, err := p.extract(ctx, req)
	if err != nil {
		return Outcome{}, &OCRError{Err: err}
	}

	out := Outcome{PageCount: res.PageCount}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard("summary", func() {
		out.Text, out.SummarySource = p.Summarizer.Generate(gctx, res.Text)
	}))
	g.Go(guard("key_phrases", func() {
		out.KeyPhrases, out.KeyPhraseSource = p.Extractor.Extract(gctx, res.Text)
	}))
	g.Go(guard("confidence", func() {
		out.Confidence = confidence.Score(res)
	}))
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}
	if out.KeyPhrases == nil {
		out.KeyPhrases = []string{}
	}
	return out, nil
}

// guard runs fn inside an errgroup goroutine, where a panic would otherwise
// take the process down, and reports it as an error instead.
func guard(stage string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s stage panicked: %v", stage, r)
			}
		}()
		fn()
		return nil
	}
}

func (p *Pipeline) extract(ctx context.Context, req Request) (ocr.Result, error) {
	if p.OCRTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.OCRTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := p.OCR.Extract(ctx, req.Document)
	elapsed := time.Since(start).Milliseconds()
	metrics.ObserveOCRDurationMs(float64(elapsed))

	fields := map[string]any{
		"report_id":   req.ReportID,
		"patient_id":  req.PatientID,
		"provider":    p.OCR.Name(),
		"duration_ms": elapsed,
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !ocr.IsTimeout(err) {
			err = ocr.Timeout(p.OCR.Name(), err)
		}
		fields["error"] = err.Error()
		telemetry.Warn("analysis.ocr.failed", fields)
		return ocr.Result{}, err
	}
	if res.PageCount == 0 && len(res.Pages) > 0 {
		res.PageCount = len(res.Pages)
	}
	fields["page_count"] = res.PageCount
	fields["text_chars"] = len(res.Text)
	telemetry.Info("analysis.ocr.completed", fields)
	return res, nil
}

// Describe returns a short label for logs, e.g. "azure" or "none".
func (p *Pipeline) Describe() string {
	if p.OCR == nil {
		return "none"
	}
	return fmt.Sprintf("%s(configured=%t)", p.OCR.Name(), p.OCR.IsConfigured())
}
