// Package adminhttp is the sweeper process's operator-facing surface:
// liveness/readiness probes and the Prometheus scrape endpoint. It
// carries none of the teacher's domain routes (no jobs/schedules
// equivalent exists in this engine) but keeps the same gin + slog-gin +
// Recovery + metrics-middleware stack the teacher assembles in
// internal/http/router.go.
package adminhttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloggin "github.com/samber/slog-gin"

	"github.com/flowkit/journey/internal/health"
	"github.com/flowkit/journey/internal/metrics"
)

// NewRouter builds the admin gin.Engine. Grounded on
// internal/http/router.go's middleware chain, minus RequestID/Security/
// the auth+ensureUser route groups, which have no equivalent here.
func NewRouter(checker *health.Checker, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(logger))
	r.Use(requestMetrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})

	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// requestMetrics mirrors the teacher's middleware.Metrics verbatim,
// retargeted at this package's HTTPRequestDuration/HTTPRequestsTotal.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
