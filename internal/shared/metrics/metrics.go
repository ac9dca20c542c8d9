package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	analysisStartedTotal   atomic.Uint64
	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64

	summaryFallbackTotal   atomic.Uint64
	keyPhraseFallbackTotal atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsCompletedTotal            atomic.Uint64
	jobsFailedTotal               atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
	ocrDuration      = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// Fallback components.
const (
	ComponentSummary    = "summary"
	ComponentKeyPhrases = "key_phrases"
)

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Add(1)
}

// IncEnrichmentFallback counts a strategy that produced no usable result.
func IncEnrichmentFallback(component string) {
	switch component {
	case ComponentSummary:
		summaryFallbackTotal.Add(1)
	case ComponentKeyPhrases:
		keyPhraseFallbackTotal.Add(1)
	}
}

func IncAnalysisJobsReceived()             { jobsReceivedTotal.Add(1) }
func IncAnalysisJobsCompleted()            { jobsCompletedTotal.Add(1) }
func IncAnalysisJobsFailed()               { jobsFailedTotal.Add(1) }
func IncAnalysisJobsDeletedUnrecoverable() { jobsDeletedUnrecoverableTotal.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// ObserveOCRDurationMs records a single OCR call duration in milliseconds.
func ObserveOCRDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ocrDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "report_analysis_started_total", "Total report analyses started", analysisStartedTotal.Load())
	writeCounter(&buf, "report_analysis_completed_total", "Total report analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "report_analysis_failed_total", "Total report analyses failed", analysisFailedTotal.Load())
	fmt.Fprintf(&buf, "# HELP report_enrichment_fallback_total Enrichment strategies that yielded no usable result\n")
	fmt.Fprintf(&buf, "# TYPE report_enrichment_fallback_total counter\n")
	fmt.Fprintf(&buf, "report_enrichment_fallback_total{component=%q} %d\n", ComponentSummary, summaryFallbackTotal.Load())
	fmt.Fprintf(&buf, "report_enrichment_fallback_total{component=%q} %d\n", ComponentKeyPhrases, keyPhraseFallbackTotal.Load())
	writeCounter(&buf, "report_analysis_jobs_received_total", "Queue jobs received", jobsReceivedTotal.Load())
	writeCounter(&buf, "report_analysis_jobs_completed_total", "Queue jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "report_analysis_jobs_failed_total", "Queue jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "report_analysis_jobs_deleted_unrecoverable_total", "Queue jobs dropped as unrecoverable", jobsDeletedUnrecoverableTotal.Load())
	writeHistogram(&buf, "report_analysis_duration_ms", "Report analysis duration in milliseconds", analysisDuration.Snapshot())
	writeHistogram(&buf, "report_ocr_duration_ms", "OCR call duration in milliseconds", ocrDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
