package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds all HTTP-related metrics.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	activeRequests prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics registered with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_http_requests_total",
				Help: "Total HTTP requests labeled by method, endpoint and status code.",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDur: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsdesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"method", "endpoint"},
		),
		activeRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsdesk_http_active_requests",
				Help: "Number of currently active HTTP requests.",
			},
		),
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			method := c.Request().Method
			endpoint := normalizePath(c.Path())
			m.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Response().Status)).Inc()
			m.requestDur.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}

// normalizePath maps unmatched requests to a single label so unknown URLs
// cannot grow the series count.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
