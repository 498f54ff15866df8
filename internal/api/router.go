package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter assembles the gin engine with the middleware stack and
// route table named in spec.md §4.6, grounded on order_service/main.go's
// gin.New()+Recovery()+CORS+logging+route-group wiring.
func NewRouter(optimizationController *OptimizationController, webhookController *WebhookController, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(logger))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, SuccessResponse{
			Message: "optimization engine is healthy",
			Data: gin.H{
				"timestamp": time.Now().UTC(),
				"service":   "optimization-engine",
			},
		})
	})

	v1 := router.Group("/")
	{
		v1.GET("/optimizations", optimizationController.ListOptimizations)
		v1.POST("/assign", optimizationController.Assign)
		v1.POST("/impression", optimizationController.Impression)
		v1.GET("/assignments/:session_id", optimizationController.GetAssignments)
	}

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/orders/create", webhookController.OrderCreate)
		webhooks.POST("/shop/redact", webhookController.ShopRedact)
	}

	admin := router.Group("/admin")
	{
		admin.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return router
}
