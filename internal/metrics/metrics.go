package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

var (
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_reservations_total",
			Help: "Reservation attempts by resource type and outcome",
		},
		[]string{"resource_type", "outcome"},
	)
	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_cancellations_total",
			Help: "Cancellation attempts by outcome",
		},
		[]string{"outcome"},
	)
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Inventory compensations by operation and result",
		},
		[]string{"operation", "result"},
	)
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_events_total",
			Help: "Booking events by type and delivery result",
		},
		[]string{"type", "result"},
	)
)

var outcomes = []struct {
	err   error
	label string
}{
	{domain.ErrValidation, "validation"},
	{domain.ErrInsufficientInventory, "insufficient_inventory"},
	{domain.ErrDuplicateRequest, "duplicate"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrForbidden, "forbidden"},
	{domain.ErrInvalidState, "invalid_state"},
	{domain.ErrStorageTimeout, "storage_timeout"},
	{domain.ErrStorageUnavailable, "storage_unavailable"},
}

// Outcome turns an error into a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "api/v1/")
	if idx := strings.Index(p, "/"); idx >= 0 {
		p = p[:idx]
	}
	if p == "" {
		return "root"
	}
	return p
}

func Middleware(c *gin.Context) {
	if c.Request.URL.Path == "/metrics" {
		c.Next()
		return
	}
	start := time.Now()
	c.Next()
	duration := time.Since(start).Seconds()
	path := NormalizePath(c.Request.URL.Path)
	status := strconv.Itoa(c.Writer.Status())
	RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	RequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
