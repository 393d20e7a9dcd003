package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinpay-service/coinpay_service/internal/api/handlers/webhooks"
	"github.com/coinpay-service/coinpay_service/internal/api/middleware"
)

// SetupRoutes builds the service router: health, metrics, and the Circle
// webhook endpoint. Webhook routes carry no session auth; the signature
// check inside the handler is the authentication boundary.
func SetupRoutes(db *sqlx.DB, circleWebhook *webhooks.CircleWebhookHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", healthHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.Timeout(middleware.DefaultWebhookTimeout))
	{
		api.POST("/webhooks/circle", circleWebhook.HandleWebhook)
		api.GET("/webhooks/circle", circleWebhook.HandlePing)
	}

	return router
}

func healthHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if err := db.PingContext(c.Request.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
