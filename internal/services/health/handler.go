package health

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medreport-backend/internal/shared/server/respond"
)

// Handler serves GET /health.
type Handler struct {
	Svc *Service
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.status)
}

func (h *Handler) status(c *gin.Context) {
	status := h.Svc.Status(c.Request.Context())
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	respond.JSON(c, code, status)
}
