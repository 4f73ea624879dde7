package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and TableCRM collectors of one server
type Metrics struct {
	ServiceName string
	registry    *prometheus.Registry

	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	statusCategory    *prometheus.CounterVec
	crmRequestCounter *prometheus.CounterVec
	crmDuration       *prometheus.HistogramVec
	activeSessions    prometheus.GaugeFunc
}

// NewMetrics creates and registers the collectors on a private registry.
// sessions, if not nil, reports the number of active sessions.
func NewMetrics(serviceName string, sessions func() int) *Metrics {
	m := &Metrics{
		ServiceName: serviceName,
		registry:    prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		statusCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_status_category_total",
				Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category", "method", "path"},
		),
		crmRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablecrm_requests_total",
				Help: "Total number of TableCRM API requests",
			},
			[]string{"service", "method", "endpoint", "status"},
		),
		crmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablecrm_request_duration_seconds",
				Help:    "Duration of TableCRM API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "endpoint"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCounter,
		m.requestDuration,
		m.statusCategory,
		m.crmRequestCounter,
		m.crmDuration,
	)
	if sessions != nil {
		m.activeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "active_sessions",
			Help:        "Number of authenticated sessions held in memory",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, func() float64 { return float64(sessions()) })
		m.registry.MustRegister(m.activeSessions)
	}
	return m
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}

// Middleware records HTTP request metrics
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		statusStr := strconv.Itoa(status)

		m.requestCounter.WithLabelValues(m.ServiceName, method, path, statusStr).Inc()
		if category := statusCategory(status); category != "" {
			m.statusCategory.WithLabelValues(m.ServiceName, category, method, path).Inc()
		}
		m.requestDuration.WithLabelValues(m.ServiceName, method, path, statusStr).Observe(time.Since(start).Seconds())
	}
}

// ObserveRequest records one TableCRM API call
func (m *Metrics) ObserveRequest(method, endpoint string, status int, duration time.Duration) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	m.crmRequestCounter.WithLabelValues(m.ServiceName, method, endpoint, statusStr).Inc()
	m.crmDuration.WithLabelValues(m.ServiceName, method, endpoint).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
