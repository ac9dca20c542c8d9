package reports

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"medreport-backend/internal/shared/server/middleware"
	"medreport-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
	// Limit guards the endpoints that start an analysis run. Nil means unlimited.
	Limit gin.HandlerFunc
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches report routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	limit := h.Limit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}
	rg.POST("/patients/:patientId/reports", limit, h.upload)
	rg.GET("/patients/:patientId/reports", h.list)
	rg.GET("/patients/:patientId/reports/latest", h.latest)
	rg.GET("/reports/:id", h.get)
	rg.PATCH("/reports/:id", h.updateNotes)
	rg.DELETE("/reports/:id", h.delete)
	rg.GET("/reports/:id/analysis", h.analysis)
	rg.GET("/reports/:id/file", h.file)
	rg.POST("/reports/:id/reanalyze", limit, h.reanalyze)
}

func (h *Handler) upload(c *gin.Context) {
	patientID := strings.TrimSpace(c.Param("patientId"))
	c.Set("patientId", patientID)
	// Leave room for multipart framing around the file part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+(1<<20))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the 10MB limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if _, err := ValidateFileName(fileHeader.Filename); err != nil {
		respond.Error(c, http.StatusBadRequest, "unsupported_file_type", err.Error(), nil)
		return
	}
	if err := ValidateSize(fileHeader.Size); err != nil {
		writeServiceError(c, err, "failed to upload report")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	report, err := h.Svc.Upload(ctx, UploadInput{
		PatientID:  patientID,
		FileName:   fileHeader.Filename,
		UploadedBy: middleware.UserIDFromContext(c),
		Body:       file,
	})
	if err != nil {
		writeServiceError(c, err, "failed to upload report")
		return
	}
	c.Set("reportId", report.ID)
	c.Set("statusTransition", "upload->"+report.Status)

	status := http.StatusCreated
	if report.Status == StatusPending {
		status = http.StatusAccepted
	}
	respond.JSON(c, status, report)
}

func (h *Handler) list(c *gin.Context) {
	patientID := strings.TrimSpace(c.Param("patientId"))
	c.Set("patientId", patientID)
	limit := parseIntDefault(c.Query("limit"), 20)
	offset := parseIntDefault(c.Query("offset"), 0)
	if limit <= 0 || limit > 100 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be between 1 and 100", nil)
		return
	}
	if offset < 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "offset must be >= 0", nil)
		return
	}

	reports, err := h.Svc.ListByPatient(c.Request.Context(), patientID, limit, offset)
	if err != nil {
		writeServiceError(c, err, "failed to list reports")
		return
	}
	respond.OK(c, gin.H{"items": reports, "limit": limit, "offset": offset})
}

func (h *Handler) latest(c *gin.Context) {
	patientID := strings.TrimSpace(c.Param("patientId"))
	c.Set("patientId", patientID)
	report, err := h.Svc.Latest(c.Request.Context(), patientID)
	if err != nil {
		writeServiceError(c, err, "failed to fetch report")
		return
	}
	c.Set("reportId", report.ID)
	respond.OK(c, report)
}

func (h *Handler) get(c *gin.Context) {
	report, ok := h.load(c)
	if !ok {
		return
	}
	respond.OK(c, report)
}

func (h *Handler) analysis(c *gin.Context) {
	report, ok := h.load(c)
	if !ok {
		return
	}
	respond.OK(c, report.Analysis())
}

type updateNotesRequest struct {
	DoctorNotes *string `json:"doctorNotes"`
}

func (h *Handler) updateNotes(c *gin.Context) {
	reportID := c.Param("id")
	c.Set("reportId", reportID)

	var req updateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DoctorNotes == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "doctorNotes is required", nil)
		return
	}
	report, err := h.Svc.UpdateNotes(c.Request.Context(), reportID, *req.DoctorNotes)
	if err != nil {
		writeServiceError(c, err, "failed to update report")
		return
	}
	respond.OK(c, report)
}

func (h *Handler) delete(c *gin.Context) {
	reportID := c.Param("id")
	c.Set("reportId", reportID)
	if err := h.Svc.Delete(c.Request.Context(), reportID); err != nil {
		writeServiceError(c, err, "failed to delete report")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) file(c *gin.Context) {
	reportID := c.Param("id")
	c.Set("reportId", reportID)
	body, report, err := h.Svc.OpenFile(c.Request.Context(), reportID)
	if err != nil {
		writeServiceError(c, err, "failed to open report file")
		return
	}
	defer body.Close()

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", report.FileName))
	c.Header("Content-Length", strconv.FormatInt(report.SizeBytes, 10))
	c.Header("Content-Type", report.ContentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

func (h *Handler) reanalyze(c *gin.Context) {
	reportID := c.Param("id")
	c.Set("reportId", reportID)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	report, err := h.Svc.Reanalyze(ctx, reportID)
	if err != nil {
		writeServiceError(c, err, "failed to reanalyze report")
		return
	}
	c.Set("statusTransition", "reanalyze->"+report.Status)

	status := http.StatusOK
	if report.Status == StatusPending {
		status = http.StatusAccepted
	}
	respond.JSON(c, status, report)
}

func (h *Handler) load(c *gin.Context) (Report, bool) {
	reportID := c.Param("id")
	c.Set("reportId", reportID)
	report, err := h.Svc.Get(c.Request.Context(), reportID)
	if err != nil {
		writeServiceError(c, err, "failed to fetch report")
		return Report{}, false
	}
	c.Set("patientId", report.PatientID)
	return report, true
}

func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "report not found", nil)
	case errors.Is(err, ErrAnalysisInProgress):
		respond.Error(c, http.StatusConflict, "analysis_in_progress", err.Error(), nil)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "invalid_status_transition", err.Error(), nil)
	case errors.Is(err, ErrUnsupportedFileType):
		respond.Error(c, http.StatusBadRequest, "unsupported_file_type", err.Error(), nil)
	case errors.Is(err, ErrFileTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
	case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func parseIntDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
