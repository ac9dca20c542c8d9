// Package confidence reduces per-token OCR confidences to one score.
package confidence

import (
	"math"

	"medreport-backend/internal/ocr"
)

// Score returns the mean of every reported token confidence rounded to two
// decimals, or nil when no token carried one. The result is clamped to [0, 1].
func Score(res ocr.Result) *float64 {
	return Mean(res.Confidences())
}

// Mean is Score over a flat list of values.
func Mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := math.Round(sum/float64(len(values))*100) / 100
	avg = math.Max(0, math.Min(1, avg))
	return &avg
}
