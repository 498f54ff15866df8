// Package api is C6: the HTTP surface (REST endpoints + the order and
// shop-redact webhooks). Controller shape, middleware, and response
// envelope are grounded on order_service/src/controllers/order_controller.go.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON error envelope every handler returns on
// failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse wraps a successful response payload.
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// loggingMiddleware records request duration and status, mirroring
// order_service's LoggingMiddleware but through zap rather than stdlib
// log.
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		duration := time.Since(start)

		logger.Info("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", duration))

		ctx.Header("X-Response-Time", duration.String())
		ctx.Header("X-Service", "optimization-engine")
	}
}

// corsMiddleware allows cross-origin calls from the merchant's
// storefront theme, where the assignment/impression endpoints are
// called from client-side JS.
func corsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Shop-Domain, X-Webhook-Signature")

		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(204)
			return
		}
		ctx.Next()
	}
}
