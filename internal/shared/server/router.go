package server

import (
	"github.com/gin-gonic/gin"

	"medreport-backend/internal/reports"
	"medreport-backend/internal/services/health"
	"medreport-backend/internal/shared/auth"
	"medreport-backend/internal/shared/metrics"
	"medreport-backend/internal/shared/server/middleware"
)

// Rate limit groups.
const (
	GroupDefault  = "DEFAULT"
	GroupAnalysis = "ANALYSIS"
)

// RouterDeps are the services the HTTP surface exposes.
type RouterDeps struct {
	Reports         *reports.Service
	Health          *health.Service
	Verifier        *auth.Verifier
	CORSAllowOrigin []string
	// AnalysisRate and AnalysisBurst bound uploads and re-analysis per caller.
	AnalysisRate  float64
	AnalysisBurst int
	Limiter       *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.CORSAllowOrigin),
		middleware.Identity(deps.Verifier),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	if deps.Health != nil {
		(&health.Handler{Svc: deps.Health}).RegisterRoutes(api)
	}

	reportHandler := reports.NewHandler(deps.Reports)
	reportHandler.Limit = middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: GroupAnalysis,
		Limiter:      deps.Limiter,
		Rules: map[string]middleware.RateLimitRule{
			GroupAnalysis: {Rate: deps.AnalysisRate, Burst: deps.AnalysisBurst},
		},
	})
	reportHandler.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
