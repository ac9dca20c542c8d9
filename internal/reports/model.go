package reports

import "time"

// Report is one uploaded medical document and the state of its analysis.
// Result fields are nil until a run completes (or, for ErrorCode/ErrorMessage, fails).
type Report struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	BlobKey     string    `json:"-"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
	UploadedBy  string    `json:"uploadedBy"`
	Status      string    `json:"status"`

	ExtractedText   *string  `json:"extractedText"`
	KeyPhrases      []string `json:"keyPhrases"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	PageCount       *int     `json:"pageCount"`
	SummarySource   *string  `json:"summarySource"`
	KeyPhraseSource *string  `json:"keyPhraseSource"`
	ErrorCode       *string  `json:"errorCode"`
	ErrorMessage    *string  `json:"errorMessage"`

	DoctorNotes string     `json:"doctorNotes"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AnalysisView is the analysis-only projection served by GET /reports/:id/analysis.
type AnalysisView struct {
	ReportID        string   `json:"reportId"`
	Status          string   `json:"status"`
	ExtractedText   *string  `json:"extractedText"`
	KeyPhrases      []string `json:"keyPhrases"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	PageCount       *int     `json:"pageCount"`
	ErrorCode       *string  `json:"errorCode"`
	ErrorMessage    *string  `json:"errorMessage"`
}

// Analysis projects r onto its analysis view.
func (r Report) Analysis() AnalysisView {
	return AnalysisView{
		ReportID:        r.ID,
		Status:          r.Status,
		ExtractedText:   r.ExtractedText,
		KeyPhrases:      r.KeyPhrases,
		ConfidenceScore: r.ConfidenceScore,
		PageCount:       r.PageCount,
		ErrorCode:       r.ErrorCode,
		ErrorMessage:    r.ErrorMessage,
	}
}

func (r *Report) clearResults() {
	r.ExtractedText = nil
	r.KeyPhrases = nil
	r.ConfidenceScore = nil
	r.PageCount = nil
	r.SummarySource = nil
	r.KeyPhraseSource = nil
	r.ErrorCode = nil
	r.ErrorMessage = nil
}
