// Package enrich runs an ordered list of strategies, falling back to the next
// one whenever a strategy fails or has nothing to say.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medreport-backend/internal/shared/metrics"
	"medreport-backend/internal/shared/telemetry"
)

// ErrNoResult signals that a strategy ran but produced nothing usable.
var ErrNoResult = errors.New("no result")

// Strategy produces T from extracted text.
type Strategy[T any] interface {
	Name() string
	Run(ctx context.Context, text string) (T, error)
}

// Func adapts a plain function to Strategy.
type Func[T any] struct {
	Label string
	Fn    func(ctx context.Context, text string) (T, error)
}

func (f Func[T]) Name() string { return f.Label }

func (f Func[T]) Run(ctx context.Context, text string) (T, error) {
	return f.Fn(ctx, text)
}

// Chain tries Strategies in order. The last strategy is expected to be
// deterministic so Run only fails when every strategy failed.
type Chain[T any] struct {
	Component  string
	Strategies []Strategy[T]
	// Timeout bounds each strategy except the last. Zero means no per-strategy bound.
	Timeout time.Duration
}

// Result carries the value plus the name of the strategy that produced it.
type Result[T any] struct {
	Value  T
	Source string
}

// Run returns the first successful strategy's output.
func (c Chain[T]) Run(ctx context.Context, text string) (Result[T], error) {
	var zero Result[T]
	if len(c.Strategies) == 0 {
		return zero, fmt.Errorf("%s: no strategies configured", c.Component)
	}

	var lastErr error
	for i, s := range c.Strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		last := i == len(c.Strategies)-1
		v, err := c.runOne(ctx, s, text, last)
		if err == nil {
			return Result[T]{Value: v, Source: s.Name()}, nil
		}
		lastErr = err
		if last {
			break
		}
		metrics.IncEnrichmentFallback(c.Component)
		telemetry.Warn("enrich.fallback", map[string]any{
			"component": c.Component,
			"strategy":  s.Name(),
			"next":      c.Strategies[i+1].Name(),
			"error":     err.Error(),
		})
	}
	return zero, fmt.Errorf("%s: all strategies failed: %w", c.Component, lastErr)
}

func (c Chain[T]) runOne(ctx context.Context, s Strategy[T], text string, last bool) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	if c.Timeout > 0 && !last {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return s.Run(ctx, text)
}
