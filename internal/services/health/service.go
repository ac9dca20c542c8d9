// Package health reports whether the service and its collaborators are usable.
package health

import (
	"context"
	"database/sql"

	"medreport-backend/internal/llm"
	"medreport-backend/internal/ocr"
	"medreport-backend/internal/shared/storage/db"
)

// Component describes one dependency.
type Component struct {
	Provider   string `json:"provider,omitempty"`
	Configured bool   `json:"configured"`
	Error      string `json:"error,omitempty"`
}

// Status is the health payload.
type Status struct {
	OK       bool      `json:"ok"`
	Database Component `json:"database"`
	OCR      Component `json:"ocr"`
	LLM      Component `json:"llm"`
}

// Service encapsulates health-related checks.
type Service struct {
	DB  *sql.DB
	OCR ocr.Client
	LLM llm.Client
}

// NewService constructs a new health service.
func NewService(database *sql.DB, ocrClient ocr.Client, llmClient llm.Client) *Service {
	return &Service{DB: database, OCR: ocrClient, LLM: llmClient}
}

// Status checks the database and reports which engines are configured.
// An unconfigured engine does not make the service unhealthy: OCR failures
// surface per report and LLM stages fall back.
func (s *Service) Status(ctx context.Context) Status {
	out := Status{OK: true}

	out.Database = Component{Provider: "memory", Configured: true}
	if s.DB != nil {
		out.Database.Provider = "postgres"
		if err := db.Check(ctx, s.DB); err != nil {
			out.OK = false
			out.Database.Error = err.Error()
		}
	}

	if s.OCR != nil {
		out.OCR = Component{Provider: s.OCR.Name(), Configured: s.OCR.IsConfigured()}
	}
	out.LLM = Component{Provider: "none"}
	if s.LLM != nil {
		out.LLM = Component{Provider: s.LLM.Name(), Configured: llm.IsConfigured(s.LLM)}
	}
	return out
}
