package reports

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAnalysisInProgress    = errors.New("analysis already in progress")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnsupportedFileType   = errors.New("unsupported file type")
	ErrFileTooLarge          = errors.New("file too large")
	ErrEmptyFile             = errors.New("empty file")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
)

const (
	ErrorCodeOCRNotConfigured = "OCR_NOT_CONFIGURED"
	ErrorCodeOCRUpstream      = "OCR_UPSTREAM"
	ErrorCodeOCRTimeout       = "OCR_TIMEOUT"
	ErrorCodeStorage          = "STORAGE_ERROR"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)
