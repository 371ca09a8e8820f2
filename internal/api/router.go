package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter registra as rotas do serviço. metrics pode ser nil.
func NewRouter(h *Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(h.serviceName, otelgin.WithFilter(func(req *http.Request) bool {
		return req.URL.Path != "/health" && req.URL.Path != "/metrics"
	})))
	r.Use(requestLogger(h.logger))

	r.GET("/health", h.HealthCheck)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api")
	{
		api.POST("/orders", h.CreateOrderSaga)
		api.GET("/orders/:orderId", h.GetOrder)
		api.GET("/sagas/:sagaId", h.GetSagaStatus)

		api.GET("/events/aggregate/:aggregateId", h.GetAggregateEvents)
		api.GET("/events/audit/:aggregateId", h.GetAuditTrail)
		api.GET("/events/type/:eventType", h.GetEventsByType)
		api.GET("/events/statistics", h.GetEventStatistics)
		api.GET("/events/rebuild/:aggregateId", h.RebuildAggregate)

		api.GET("/circuit-breakers", h.GetCircuitBreakers)
		api.GET("/dead-letters", h.GetDeadLetters)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Endpoint not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
