package httpapi

import (
	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/pkg/health"
	"github.com/jinjinsansan/hachikai/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		NewEngine,
	),
)

// NewEngine builds the gin engine with the full route table.
func NewEngine(cfg *config.Config, h *Handler, checks health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", checks.Liveness)
	r.GET("/readyz", checks.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/users", h.CreateUser)

		users := v1.Group("/users/:id")
		{
			users.POST("/reset/check", h.CheckReset)
			users.POST("/reset/force", h.ForceReset)
			users.GET("/reset/countdown", h.ResetCountdown)
			users.POST("/obligations", h.IncrementObligation)
			users.GET("/tier", h.GetTier)
			users.GET("/debt", h.DebtHistory)
			users.POST("/activities", h.RecordActivity)
			users.POST("/anomaly/scan", h.ScanAnomalies)
			users.POST("/proofs/validate", h.ValidateProof)
			users.POST("/sanctions", h.ApplySanction)
			users.GET("/sanctions/latest", h.LatestSanction)
			users.GET("/sanctions/status", h.SanctionStatus)
			users.GET("/purchase-targets", h.PurchaseTargets)
		}
	}

	return r
}
