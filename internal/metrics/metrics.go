//nolint:gochecknoglobals
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance"

var (
	checkIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome",
	}, []string{"outcome"})

	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "QR tokens assigned to signups",
	})

	tokenCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_collisions_total",
		Help:      "Generated tokens rejected by the unique index",
	})

	authorizationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_checks_total",
		Help:      "Attendance authorization decisions",
	}, []string{"result"})

	ticketJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticket_jobs_total",
		Help:      "Ticket render jobs processed by the worker",
	}, []string{"status"})

	httpRequestsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "The latency of the HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// Check-in outcomes.
const (
	OutcomeCheckedIn        = "checked_in"
	OutcomeAlreadyCheckedIn = "already_checked_in"
	OutcomeNotFound         = "not_found"
	OutcomeForbidden        = "forbidden"
	OutcomeError            = "error"
)

// TrackCheckIn counts a check-in attempt.
func TrackCheckIn(outcome string) {
	checkIns.WithLabelValues(outcome).Inc()
}

// TrackTokenIssued counts an assigned token.
func TrackTokenIssued() {
	tokensIssued.Inc()
}

// TrackTokenCollision counts a regenerated token.
func TrackTokenCollision() {
	tokenCollisions.Inc()
}

// TrackAuthorization counts an authorization decision. Failed lookups count as "error" and deny.
func TrackAuthorization(result string) {
	authorizationChecks.WithLabelValues(result).Inc()
}

// TrackTicketJob counts a processed ticket job.
func TrackTicketJob(status string) {
	ticketJobs.WithLabelValues(status).Inc()
}

// Middleware records request latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsDuration.With(prometheus.Labels{
			"route":  route,
			"method": c.Request.Method,
			"code":   strconv.Itoa(c.Writer.Status()),
		}).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
