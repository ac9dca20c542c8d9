package reports

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"medreport-backend/internal/analysis"
)

// MemoryRepo stores reports in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Report
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Report)}
}

func (r *MemoryRepo) Create(ctx context.Context, report Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if report.UpdatedAt.IsZero() {
		report.UpdatedAt = report.UploadedAt
	}
	r.byID[report.ID] = cloneReport(report)
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, reportID string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.byID[reportID]
	if !ok {
		return Report{}, ErrNotFound
	}
	return cloneReport(report), nil
}

// ListByPatient returns reports for a patient, newest first, with limit/offset.
func (r *MemoryRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	reports := make([]Report, 0)
	for _, rep := range r.byID {
		if rep.PatientID == patientID {
			reports = append(reports, cloneReport(rep))
		}
	}
	r.mu.RUnlock()

	if offset >= len(reports) {
		return []Report{}, nil
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].UploadedAt.Equal(reports[j].UploadedAt) {
			return reports[i].ID > reports[j].ID
		}
		return reports[i].UploadedAt.After(reports[j].UploadedAt)
	})

	end := len(reports)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return reports[offset:end], nil
}

func (r *MemoryRepo) LatestByPatient(ctx context.Context, patientID string) (Report, error) {
	reports, err := r.ListByPatient(ctx, patientID, 1, 0)
	if err != nil {
		return Report{}, err
	}
	if len(reports) == 0 {
		return Report{}, ErrNotFound
	}
	return reports[0], nil
}

func (r *MemoryRepo) Claim(ctx context.Context, reportID string, startedAt time.Time) (Report, error) {
	var claimed Report
	err := r.mutate(ctx, reportID, func(rep *Report) error {
		if rep.Status != StatusPending {
			return Transition(rep.Status, StatusProcessing)
		}
		rep.Status = StatusProcessing
		rep.clearResults()
		rep.StartedAt = &startedAt
		rep.CompletedAt = nil
		claimed = *rep
		return nil
	})
	return cloneReport(claimed), err
}

func (r *MemoryRepo) Complete(ctx context.Context, reportID string, claimedAt time.Time, out analysis.Outcome, completedAt time.Time) error {
	return r.mutate(ctx, reportID, func(rep *Report) error {
		if err := Transition(rep.Status, StatusCompleted); err != nil {
			return err
		}
		if !holdsClaim(*rep, claimedAt) {
			return supersededError(StatusCompleted)
		}
		pageCount := out.PageCount
		confidence := out.Confidence
		rep.Status = StatusCompleted
		rep.ExtractedText = strPtr(out.Text)
		rep.KeyPhrases = append([]string{}, out.KeyPhrases...)
		rep.ConfidenceScore = confidence
		rep.PageCount = &pageCount
		rep.SummarySource = strPtr(out.SummarySource)
		rep.KeyPhraseSource = strPtr(out.KeyPhraseSource)
		rep.ErrorCode = nil
		rep.ErrorMessage = nil
		rep.CompletedAt = &completedAt
		return nil
	})
}

func (r *MemoryRepo) Fail(ctx context.Context, reportID string, claimedAt *time.Time, code, message string, completedAt time.Time) error {
	return r.mutate(ctx, reportID, func(rep *Report) error {
		if err := Transition(rep.Status, StatusFailed); err != nil {
			return err
		}
		switch {
		case claimedAt == nil && rep.Status != StatusPending:
			return fmt.Errorf("%w: %s->%s without a claim", ErrInvalidTransition, rep.Status, StatusFailed)
		case claimedAt != nil && !holdsClaim(*rep, *claimedAt):
			return supersededError(StatusFailed)
		}
		rep.Status = StatusFailed
		rep.clearResults()
		rep.ErrorCode = strPtr(code)
		rep.ErrorMessage = strPtr(message)
		rep.CompletedAt = &completedAt
		return nil
	})
}

func (r *MemoryRepo) Reset(ctx context.Context, reportID string, staleBefore time.Time) (Report, error) {
	var reset Report
	err := r.mutate(ctx, reportID, func(rep *Report) error {
		if !isStale(*rep, staleBefore) {
			if err := Transition(rep.Status, StatusPending); err != nil {
				return err
			}
		}
		rep.Status = StatusPending
		rep.clearResults()
		rep.StartedAt = nil
		rep.CompletedAt = nil
		reset = *rep
		return nil
	})
	return cloneReport(reset), err
}

func (r *MemoryRepo) UpdateNotes(ctx context.Context, reportID, notes string) (Report, error) {
	var updated Report
	err := r.mutate(ctx, reportID, func(rep *Report) error {
		rep.DoctorNotes = notes
		updated = *rep
		return nil
	})
	return cloneReport(updated), err
}

func (r *MemoryRepo) Delete(ctx context.Context, reportID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.byID[reportID]
	if !ok {
		return ErrNotFound
	}
	if rep.Status == StatusProcessing {
		return ErrAnalysisInProgress
	}
	delete(r.byID, reportID)
	return nil
}

// mutate applies fn under the write lock and bumps UpdatedAt when fn succeeds.
func (r *MemoryRepo) mutate(ctx context.Context, reportID string, fn func(*Report) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.byID[reportID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&rep); err != nil {
		return err
	}
	rep.UpdatedAt = time.Now().UTC()
	r.byID[reportID] = cloneReport(rep)
	return nil
}

func isStale(rep Report, staleBefore time.Time) bool {
	return rep.Status == StatusProcessing &&
		!staleBefore.IsZero() &&
		rep.StartedAt != nil &&
		rep.StartedAt.Before(staleBefore)
}

// holdsClaim reports whether rep is still processing under the claim taken at claimedAt.
func holdsClaim(rep Report, claimedAt time.Time) bool {
	return rep.Status == StatusProcessing && rep.StartedAt != nil && rep.StartedAt.Equal(claimedAt)
}

func supersededError(to string) error {
	return fmt.Errorf("%w: processing->%s (run superseded)", ErrInvalidTransition, to)
}

func cloneReport(rep Report) Report {
	if rep.KeyPhrases != nil {
		rep.KeyPhrases = append([]string{}, rep.KeyPhrases...)
	}
	return rep
}

var _ Repo = (*MemoryRepo)(nil)
