package reports

import (
	"context"
	"time"

	"medreport-backend/internal/analysis"
)

// Repo persists reports. Implementations enforce Transition on every status
// write and make Claim and Reset atomic, which is what keeps two runs off the
// same record.
type Repo interface {
	Create(ctx context.Context, report Report) error
	GetByID(ctx context.Context, reportID string) (Report, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Report, error)
	LatestByPatient(ctx context.Context, patientID string) (Report, error)

	// Claim moves a pending report to processing. A report in any other
	// status yields ErrInvalidTransition.
	Claim(ctx context.Context, reportID string, startedAt time.Time) (Report, error)
	// Complete writes every result field and moves processing to completed.
	// claimedAt is the StartedAt returned by Claim; a run that has since been
	// taken over no longer matches and gets ErrInvalidTransition.
	Complete(ctx context.Context, reportID string, claimedAt time.Time, out analysis.Outcome, completedAt time.Time) error
	// Fail clears results, records the error and moves the report to failed.
	// A nil claimedAt fails a pending report that never started; otherwise the
	// report must still be processing under that claim.
	Fail(ctx context.Context, reportID string, claimedAt *time.Time, code, message string, completedAt time.Time) error
	// Reset clears every result field and returns the report to pending.
	// Processing reports are refused with ErrAnalysisInProgress unless they
	// started before staleBefore.
	Reset(ctx context.Context, reportID string, staleBefore time.Time) (Report, error)

	UpdateNotes(ctx context.Context, reportID, notes string) (Report, error)
	// Delete removes a report. Processing reports are refused with ErrAnalysisInProgress.
	Delete(ctx context.Context, reportID string) error
}

func strPtr(s string) *string { return &s }
