package handler

import (
	"net/http"

	"loyaltysystem/internal/config"
	"loyaltysystem/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the loyalty API.
func SetupRouter(engine *service.Engine, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(engine)

	loyalty := r.Group("/api/v1/loyalty")
	{
		loyalty.GET("/account", h.GetAccount)
		loyalty.GET("/status", h.GetStatus)
		loyalty.GET("/transactions", h.ListTransactions)
		loyalty.GET("/redemptions", h.ListRedemptions)
		loyalty.GET("/rewards", h.ListRewards)
		loyalty.GET("/tiers", h.ListTiers)
		loyalty.GET("/leaderboard", h.Leaderboard)
		loyalty.GET("/settings", h.GetSettings)

		loyalty.POST("/join", h.Join)
		loyalty.POST("/redeem", h.Redeem)
		loyalty.POST("/earn-review", h.EarnReview)
		loyalty.POST("/validate-referral", h.ValidateReferral)
		loyalty.POST("/orders/complete", h.CompleteOrder)

		admin := loyalty.Group("/admin", AdminAuthMiddleware(cfg.Admin.APIKey))
		{
			admin.GET("/stats", h.Stats)
			admin.GET("/reconcile/:account_id", h.Reconcile)
			admin.POST("/adjust", h.Adjust)
			admin.POST("/award", h.Award)
			admin.POST("/birthday", h.Birthday)
			admin.POST("/expire", h.Expire)
			admin.POST("/audit", h.Audit)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
