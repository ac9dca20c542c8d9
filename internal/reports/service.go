package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"medreport-backend/internal/analysis"
	"medreport-backend/internal/ocr"
	"medreport-backend/internal/queue"
	"medreport-backend/internal/shared/metrics"
	"medreport-backend/internal/shared/storage/object"
	"medreport-backend/internal/shared/telemetry"
)

const (
	ModeSync  = "sync"
	ModeQueue = "queue"

	DefaultUploader = "system"
)

// Analyzer runs the document pipeline. *analysis.Pipeline satisfies it.
type Analyzer interface {
	Run(ctx context.Context, req analysis.Request) (analysis.Outcome, error)
}

// Service owns the report lifecycle and is the only writer of analysis status.
type Service struct {
	Repo     Repo
	Store    object.ObjectStore
	Analyzer Analyzer
	Queue    queue.Client
	// Mode is ModeSync (run inside the request) or ModeQueue (hand off to the worker).
	Mode string
	// StaleAfter lets re-analysis take over a processing report that started
	// longer ago than this. Zero disables takeover.
	StaleAfter time.Duration
}

// UploadInput is a validated multipart upload.
type UploadInput struct {
	PatientID  string
	FileName   string
	UploadedBy string
	Body       io.Reader
}

// Upload stores the document, creates a pending report and dispatches the first run.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Report, error) {
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" || in.Body == nil {
		return Report{}, fmt.Errorf("%w: patient id and file are required", ErrInvalidInput)
	}
	contentType, err := ValidateFileName(in.FileName)
	if err != nil {
		return Report{}, err
	}
	uploadedBy := strings.TrimSpace(in.UploadedBy)
	if uploadedBy == "" {
		uploadedBy = DefaultUploader
	}

	key, size, _, err := s.Store.Save(ctx, patientID, in.FileName, io.LimitReader(in.Body, MaxUploadBytes+1))
	if err != nil {
		return Report{}, fmt.Errorf("store document: %w", err)
	}
	if err := ValidateSize(size); err != nil {
		_ = s.Store.Delete(detached(ctx), key)
		return Report{}, err
	}

	now := time.Now().UTC()
	report := Report{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		BlobKey:     key,
		FileName:    in.FileName,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedAt:  now,
		UploadedBy:  uploadedBy,
		Status:      StatusPending,
		UpdatedAt:   now,
	}
	if err := s.Repo.Create(ctx, report); err != nil {
		_ = s.Store.Delete(detached(ctx), key)
		return Report{}, fmt.Errorf("create report: %w", err)
	}
	telemetry.Info("report.uploaded", map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"report_id":   report.ID,
		"patient_id":  patientID,
		"size_bytes":  size,
		"uploaded_by": uploadedBy,
	})
	return s.dispatch(ctx, report)
}

// Reanalyze discards prior results and runs the pipeline again.
func (s *Service) Reanalyze(ctx context.Context, reportID string) (Report, error) {
	var staleBefore time.Time
	if s.StaleAfter > 0 {
		staleBefore = time.Now().UTC().Add(-s.StaleAfter)
	}
	report, err := s.Repo.Reset(ctx, reportID, staleBefore)
	if err != nil {
		return Report{}, err
	}
	telemetry.Info("report.analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"report_id":         report.ID,
		"patient_id":        report.PatientID,
		"status":            StatusPending,
		"status_transition": "reanalyze->pending",
	})
	return s.dispatch(ctx, report)
}

func (s *Service) dispatch(ctx context.Context, report Report) (Report, error) {
	if s.Mode != ModeQueue {
		return s.Analyze(ctx, report.ID)
	}
	if s.Queue == nil {
		s.failReport(ctx, report, ErrJobQueueNotConfigured, nil)
		return s.Repo.GetByID(detached(ctx), report.ID)
	}
	msg := queue.Message{
		ReportID:   report.ID,
		RequestID:  RequestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		s.failReport(ctx, report, fmt.Errorf("enqueue analysis: %w", err), nil)
		return s.Repo.GetByID(detached(ctx), report.ID)
	}
	telemetry.Info("report.analysis.enqueued", map[string]any{
		"request_id": msg.RequestID,
		"report_id":  report.ID,
		"patient_id": report.PatientID,
	})
	return report, nil
}

// ProcessReport is the queue worker entry point. A report that is no longer
// pending was already handled and is skipped.
func (s *Service) ProcessReport(ctx context.Context, reportID string) error {
	_, err := s.Analyze(ctx, reportID)
	if errors.Is(err, ErrInvalidTransition) {
		telemetry.Info("report.analysis.skipped", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"report_id":  reportID,
			"reason":     err.Error(),
		})
		return nil
	}
	return err
}

// Analyze claims a pending report and runs it to a terminal status. Pipeline
// failures are recorded on the report, not returned; the returned error only
// reports that the run could not start (unknown report, already claimed).
func (s *Service) Analyze(ctx context.Context, reportID string) (result Report, err error) {
	// Postgres keeps microseconds; the claim token must round-trip unchanged.
	startedAt := time.Now().UTC().Truncate(time.Microsecond)
	report, err := s.Repo.Claim(ctx, reportID, startedAt)
	if err != nil {
		return Report{}, err
	}
	if report.StartedAt != nil {
		startedAt = *report.StartedAt
	}
	metrics.IncAnalysisStarted()
	s.logTransition(ctx, report, StatusPending, StatusProcessing, nil)

	defer func() {
		if r := recover(); r != nil {
			s.failReport(ctx, report, fmt.Errorf("panic: %v", r), &startedAt)
			result, err = s.Repo.GetByID(detached(ctx), reportID)
		}
	}()

	// The run outlives a disconnected client; OCR and LLM calls carry their own timeouts.
	runCtx := detached(ctx)
	doc, err := s.loadDocument(runCtx, report)
	if err != nil {
		s.failReport(ctx, report, err, &startedAt)
		return s.Repo.GetByID(detached(ctx), reportID)
	}

	out, err := s.Analyzer.Run(runCtx, analysis.Request{ReportID: report.ID, PatientID: report.PatientID, Document: doc})
	if err != nil {
		s.failReport(ctx, report, err, &startedAt)
		return s.Repo.GetByID(detached(ctx), reportID)
	}

	completedAt := time.Now().UTC()
	if err := s.Repo.Complete(runCtx, reportID, startedAt, out, completedAt); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Re-analysis took the report over; the newer run owns the results.
			telemetry.Warn("report.analysis.superseded", map[string]any{
				"request_id": RequestIDFromContext(ctx),
				"report_id":  reportID,
				"patient_id": report.PatientID,
				"error":      err.Error(),
			})
			return s.Repo.GetByID(detached(ctx), reportID)
		}
		s.failReport(ctx, report, fmt.Errorf("save analysis result: %w", err), &startedAt)
		return s.Repo.GetByID(detached(ctx), reportID)
	}
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(&startedAt, &completedAt))
	s.logTransition(ctx, report, StatusProcessing, StatusCompleted, map[string]any{
		"duration_ms":       durationMs(&startedAt, &completedAt),
		"summary_source":    out.SummarySource,
		"key_phrase_source": out.KeyPhraseSource,
		"key_phrases":       len(out.KeyPhrases),
	})
	return s.Repo.GetByID(detached(ctx), reportID)
}

func (s *Service) loadDocument(ctx context.Context, report Report) (ocr.Document, error) {
	if s.Store == nil {
		return ocr.Document{}, errors.New("storage: document store not configured")
	}
	body, err := s.Store.Open(ctx, report.BlobKey)
	if err != nil {
		return ocr.Document{}, fmt.Errorf("storage: open document %s: %w", report.BlobKey, err)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes+1))
	if err != nil {
		return ocr.Document{}, fmt.Errorf("storage: read document %s: %w", report.BlobKey, err)
	}
	return ocr.Document{Data: data, ContentType: report.ContentType, FileName: report.FileName}, nil
}

// failReport records a failure. It writes with a detached context so the
// report never stays in processing because the caller went away. startedAt is
// the run's claim; nil fails a report that was never claimed.
func (s *Service) failReport(ctx context.Context, report Report, err error, startedAt *time.Time) {
	code := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.Fail(detached(ctx), report.ID, startedAt, code, msg, completedAt); updateErr != nil {
		fields := map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"report_id":  report.ID,
			"error":      updateErr.Error(),
			"cause":      msg,
		}
		if errors.Is(updateErr, ErrInvalidTransition) {
			telemetry.Warn("report.analysis.superseded", fields)
			return
		}
		telemetry.Error("report.fail.update_failed", fields)
		return
	}
	metrics.IncAnalysisFailed()
	from := StatusProcessing
	if startedAt == nil {
		from = StatusPending
	} else {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	s.logTransition(ctx, report, from, StatusFailed, map[string]any{
		"duration_ms":   durationMs(startedAt, &completedAt),
		"error_code":    code,
		"error_message": msg,
	})
}

func (s *Service) logTransition(ctx context.Context, report Report, from, to string, extra map[string]any) {
	fields := map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"report_id":         report.ID,
		"patient_id":        report.PatientID,
		"status":            to,
		"status_transition": transitionLabel(from, to),
	}
	for k, v := range extra {
		fields[k] = v
	}
	if to == StatusFailed {
		telemetry.Warn("report.analysis.status", fields)
		return
	}
	telemetry.Info("report.analysis.status", fields)
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	if errors.Is(err, ocr.ErrServiceUnavailable) {
		return ErrorCodeOCRNotConfigured
	}
	if ocr.IsTimeout(err) {
		return ErrorCodeOCRTimeout
	}
	var up *ocr.UpstreamError
	if errors.As(err, &up) {
		return ErrorCodeOCRUpstream
	}
	var ocrErr *analysis.OCRError
	if errors.As(err, &ocrErr) {
		return ErrorCodeOCRUpstream
	}
	if errors.Is(err, object.ErrNotFound) || errors.Is(err, ErrJobQueueNotConfigured) {
		return ErrorCodeStorage
	}
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "storage") || strings.Contains(msg, "save analysis result") || strings.Contains(msg, "enqueue") {
		return ErrorCodeStorage
	}
	return ErrorCodeInternal
}

func sanitizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = strings.ToValidUTF8(msg[:maxLen], "")
	}
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// Get returns a single report.
func (s *Service) Get(ctx context.Context, reportID string) (Report, error) {
	return s.Repo.GetByID(ctx, reportID)
}

// ListByPatient returns a patient's reports, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Report, error) {
	return s.Repo.ListByPatient(ctx, patientID, limit, offset)
}

// Latest returns a patient's most recent report.
func (s *Service) Latest(ctx context.Context, patientID string) (Report, error) {
	return s.Repo.LatestByPatient(ctx, patientID)
}

// UpdateNotes replaces the doctor notes. It never touches analysis fields.
func (s *Service) UpdateNotes(ctx context.Context, reportID, notes string) (Report, error) {
	return s.Repo.UpdateNotes(ctx, reportID, notes)
}

// Delete removes the report and its stored document.
func (s *Service) Delete(ctx context.Context, reportID string) error {
	report, err := s.Repo.GetByID(ctx, reportID)
	if err != nil {
		return err
	}
	// The repo refuses the delete if a run claimed the report since the read.
	if err := s.Repo.Delete(ctx, reportID); err != nil {
		return err
	}
	if s.Store != nil {
		if err := s.Store.Delete(ctx, report.BlobKey); err != nil {
			telemetry.Warn("report.blob.delete_failed", map[string]any{
				"report_id": reportID,
				"blob_key":  report.BlobKey,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// OpenFile streams the stored document. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, reportID string) (io.ReadCloser, Report, error) {
	report, err := s.Repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, Report{}, err
	}
	body, err := s.Store.Open(ctx, report.BlobKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, Report{}, ErrNotFound
		}
		return nil, Report{}, err
	}
	return body, report, nil
}
