package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and count per route template. Unmatched paths
// share one label so scanners cannot blow up cardinality. A panicking
// handler is counted as 500 before the panic continues to gin.Recovery.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				observe(c, http.StatusInternalServerError, start)
				panic(r)
			}
			observe(c, c.Writer.Status(), start)
		}()
		c.Next()
	}
}

func observe(c *gin.Context, status int, start time.Time) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(status)
	metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, code).Observe(time.Since(start).Seconds())
	metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
}
