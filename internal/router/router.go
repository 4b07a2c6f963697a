package router

import (
	"github.com/referral-next/internal/config"
	publichandlers "github.com/referral-next/internal/http/handlers/public"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		referrals := api.Group("/referrals")
		{
			referrals.POST("/:userId", publicHandler.RegisterLink)
			referrals.GET("/:userId", publicHandler.GetRefInfo)
		}
		events := api.Group("/events")
		{
			events.POST("/purchase", publicHandler.IngestPurchaseEvent)
			events.POST("/verification", publicHandler.IngestVerificationEvent)
		}
	}

	return r
}
