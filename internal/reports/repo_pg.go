package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medreport-backend/internal/analysis"
)

// PGRepo implements Repo using Postgres. Status changes are conditional
// UPDATEs, so the database row is the serialization point for a report.
type PGRepo struct {
	DB *sql.DB
}

const reportColumns = `id, patient_id, blob_key, file_name, content_type, size_bytes, uploaded_at, uploaded_by,
       status, extracted_text, key_phrases, confidence_score, page_count, summary_source, key_phrase_source,
       error_code, error_message, doctor_notes, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (Report, error) {
	var rep Report
	var extractedText sql.NullString
	var keyPhrases sql.NullString
	var confidence sql.NullFloat64
	var pageCount sql.NullInt64
	var summarySource sql.NullString
	var keyPhraseSource sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	err := row.Scan(
		&rep.ID,
		&rep.PatientID,
		&rep.BlobKey,
		&rep.FileName,
		&rep.ContentType,
		&rep.SizeBytes,
		&rep.UploadedAt,
		&rep.UploadedBy,
		&rep.Status,
		&extractedText,
		&keyPhrases,
		&confidence,
		&pageCount,
		&summarySource,
		&keyPhraseSource,
		&errorCode,
		&errorMessage,
		&rep.DoctorNotes,
		&startedAt,
		&completedAt,
		&rep.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, err
	}
	if extractedText.Valid {
		rep.ExtractedText = &extractedText.String
	}
	if keyPhrases.Valid {
		phrases := []string{}
		if err := json.Unmarshal([]byte(keyPhrases.String), &phrases); err != nil {
			return Report{}, fmt.Errorf("decode key_phrases for %s: %w", rep.ID, err)
		}
		rep.KeyPhrases = phrases
	}
	if confidence.Valid {
		rep.ConfidenceScore = &confidence.Float64
	}
	if pageCount.Valid {
		n := int(pageCount.Int64)
		rep.PageCount = &n
	}
	if summarySource.Valid {
		rep.SummarySource = &summarySource.String
	}
	if keyPhraseSource.Valid {
		rep.KeyPhraseSource = &keyPhraseSource.String
	}
	if errorCode.Valid {
		rep.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		rep.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		rep.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		rep.CompletedAt = &completedAt.Time
	}
	return rep, nil
}

// Create inserts a new report in its initial state.
func (r *PGRepo) Create(ctx context.Context, report Report) error {
	const query = `
INSERT INTO reports (
	id, patient_id, blob_key, file_name, content_type, size_bytes, uploaded_at, uploaded_by, status, doctor_notes, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	updatedAt := report.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = report.UploadedAt
	}
	_, err := r.DB.ExecContext(ctx, query,
		report.ID,
		report.PatientID,
		report.BlobKey,
		report.FileName,
		report.ContentType,
		report.SizeBytes,
		report.UploadedAt,
		report.UploadedBy,
		report.Status,
		report.DoctorNotes,
		updatedAt,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, reportID string) (Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1 LIMIT 1`
	return scanReport(r.DB.QueryRowContext(ctx, query, reportID))
}

// ListByPatient returns reports for a patient, newest first, with limit/offset.
func (r *PGRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Report, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + reportColumns + `
FROM reports
WHERE patient_id = $1
ORDER BY uploaded_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

func (r *PGRepo) LatestByPatient(ctx context.Context, patientID string) (Report, error) {
	query := `SELECT ` + reportColumns + `
FROM reports
WHERE patient_id = $1
ORDER BY uploaded_at DESC, id DESC
LIMIT 1`
	return scanReport(r.DB.QueryRowContext(ctx, query, patientID))
}

// Claim atomically moves a pending report to processing.
func (r *PGRepo) Claim(ctx context.Context, reportID string, startedAt time.Time) (Report, error) {
	query := `
UPDATE reports
SET status = 'processing',
    extracted_text = NULL, key_phrases = NULL, confidence_score = NULL, page_count = NULL,
    summary_source = NULL, key_phrase_source = NULL, error_code = NULL, error_message = NULL,
    started_at = $2, completed_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + reportColumns
	rep, err := scanReport(r.DB.QueryRowContext(ctx, query, reportID, startedAt))
	if errors.Is(err, ErrNotFound) {
		return Report{}, r.transitionError(ctx, reportID, StatusProcessing)
	}
	return rep, err
}

// Complete writes the outcome and moves processing to completed, provided the
// row is still held by the claim taken at claimedAt.
func (r *PGRepo) Complete(ctx context.Context, reportID string, claimedAt time.Time, out analysis.Outcome, completedAt time.Time) error {
	const query = `
UPDATE reports
SET status = 'completed',
    extracted_text = $2, key_phrases = $3, confidence_score = $4, page_count = $5,
    summary_source = $6, key_phrase_source = $7, error_code = NULL, error_message = NULL,
    completed_at = $8, updated_at = now()
WHERE id = $1 AND status = 'processing' AND started_at = $9`
	phrases := out.KeyPhrases
	if phrases == nil {
		phrases = []string{}
	}
	payload, err := json.Marshal(phrases)
	if err != nil {
		return err
	}
	var confidence any
	if out.Confidence != nil {
		confidence = *out.Confidence
	}
	res, err := r.DB.ExecContext(ctx, query,
		reportID,
		out.Text,
		string(payload),
		confidence,
		out.PageCount,
		out.SummarySource,
		out.KeyPhraseSource,
		completedAt,
		claimedAt,
	)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, reportID, StatusCompleted)
}

// Fail clears results and records the failure. Without a claim only a pending
// row matches; with one the row must still be processing under it.
func (r *PGRepo) Fail(ctx context.Context, reportID string, claimedAt *time.Time, code, message string, completedAt time.Time) error {
	const query = `
UPDATE reports
SET status = 'failed',
    extracted_text = NULL, key_phrases = NULL, confidence_score = NULL, page_count = NULL,
    summary_source = NULL, key_phrase_source = NULL, error_code = $2, error_message = $3,
    completed_at = $4, updated_at = now()
WHERE id = $1
  AND ((status = 'pending' AND $5::timestamptz IS NULL)
       OR (status = 'processing' AND started_at = $5::timestamptz))`
	var claim any
	if claimedAt != nil {
		claim = *claimedAt
	}
	res, err := r.DB.ExecContext(ctx, query, reportID, code, message, completedAt, claim)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, reportID, StatusFailed)
}

// Reset returns a report to pending with every result field cleared.
func (r *PGRepo) Reset(ctx context.Context, reportID string, staleBefore time.Time) (Report, error) {
	var stale any
	if !staleBefore.IsZero() {
		stale = staleBefore
	}
	query := `
UPDATE reports
SET status = 'pending',
    extracted_text = NULL, key_phrases = NULL, confidence_score = NULL, page_count = NULL,
    summary_source = NULL, key_phrase_source = NULL, error_code = NULL, error_message = NULL,
    started_at = NULL, completed_at = NULL, updated_at = now()
WHERE id = $1
  AND (status IN ('pending', 'completed', 'failed')
       OR (status = 'processing' AND $2::timestamptz IS NOT NULL AND started_at < $2::timestamptz))
RETURNING ` + reportColumns
	rep, err := scanReport(r.DB.QueryRowContext(ctx, query, reportID, stale))
	if errors.Is(err, ErrNotFound) {
		return Report{}, r.transitionError(ctx, reportID, StatusPending)
	}
	return rep, err
}

func (r *PGRepo) UpdateNotes(ctx context.Context, reportID, notes string) (Report, error) {
	query := `
UPDATE reports
SET doctor_notes = $2, updated_at = now()
WHERE id = $1
RETURNING ` + reportColumns
	return scanReport(r.DB.QueryRowContext(ctx, query, reportID, notes))
}

// Delete removes a report unless a run holds it.
func (r *PGRepo) Delete(ctx context.Context, reportID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM reports WHERE id = $1 AND status <> 'processing'`, reportID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = r.DB.QueryRowContext(ctx, `SELECT status FROM reports WHERE id = $1`, reportID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case status == StatusProcessing:
		return ErrAnalysisInProgress
	default:
		return fmt.Errorf("delete report %s: row changed concurrently", reportID)
	}
}

func (r *PGRepo) checkAffected(ctx context.Context, res sql.Result, reportID, to string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionError(ctx, reportID, to)
	}
	return nil
}

// transitionError explains why a conditional update matched no row.
func (r *PGRepo) transitionError(ctx context.Context, reportID, to string) error {
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM reports WHERE id = $1`, reportID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if terr := Transition(status, to); terr != nil {
		return terr
	}
	// The row is held by a newer claim, or changed between the update and this lookup.
	return fmt.Errorf("%w: %s->%s (run superseded)", ErrInvalidTransition, status, to)
}

var _ Repo = (*PGRepo)(nil)
