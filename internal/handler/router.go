package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 注册路由；gatherer 为 nil 时不暴露 /metrics
func SetupRouter(h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.GET("/wallet/balance", h.GetBalance)

		bet := api.Group("/bet")
		{
			bet.POST("/place", h.PlaceBet)
			bet.POST("/settle", h.SettleBet)
			bet.POST("/refund", h.RefundBet)
			bet.POST("/status", h.UpdateStatus)
			bet.PATCH("", h.UpdateBet)
			bet.GET("/detail", h.GetBet)
			bet.GET("/by-round", h.GetBetByRound)
			bet.GET("/list", h.ListUserBets)
			bet.GET("/stuck", h.ListStuckBets)
		}

		api.GET("/round/:roundId/bets", h.ListRoundBets)
		api.GET("/audit", h.ListAudits)

		admin := api.Group("/admin")
		{
			admin.DELETE("/bets/placed", h.DeletePlacedBets)
			admin.DELETE("/bets", h.DeleteBetsBefore)
			admin.DELETE("/cache/agents/:agentId", h.InvalidateAgent)
			admin.DELETE("/cache/games/:gameCode", h.InvalidateGame)
		}
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
