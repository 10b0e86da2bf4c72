package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/intl-payments/internal/handlers"
	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/middleware"
	"github.com/akylbek/intl-payments/internal/telemetry"
)

func NewRouter(paymentHandler *handlers.PaymentHandler, sessions interfaces.SessionResolver) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-gateway"})
	})

	// Payment routes
	payments := r.Group("/payments", middleware.AuthMiddleware(sessions))
	{
		payments.POST("/preview", paymentHandler.PreviewPayment)
		payments.POST("", middleware.IdempotencyMiddleware(), paymentHandler.CreatePayment)
		payments.GET("", paymentHandler.ListPayments)
		payments.GET("/:id", paymentHandler.GetPayment)
	}

	return r
}
