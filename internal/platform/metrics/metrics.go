package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	programLabel  = "program"
	strategyLabel = "strategy"
	reasonLabel   = "reason"
)

var (
	// Transitions counts workflow state changes written by strategies and
	// the sweep.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_state_transitions_total",
		Help: "Number of enrollment state transitions persisted",
	}, []string{programLabel, "terminal"})

	// EnrollmentsCreated counts enrollments opened by a qualifying encounter.
	EnrollmentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_enrollments_created_total",
		Help: "Number of enrollments created from encounters",
	}, []string{programLabel})

	// StrategySkips counts silent aborts by reason.
	StrategySkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_strategy_skips_total",
		Help: "Number of encounter evaluations that stopped on a missing prerequisite",
	}, []string{strategyLabel, reasonLabel})

	// StrategyErrors counts strategy failures swallowed by the dispatcher.
	StrategyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_strategy_errors_total",
		Help: "Number of strategy errors while handling saved encounters",
	}, []string{strategyLabel})

	// SweepCompleted counts enrollments auto-completed by the sweep.
	SweepCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_sweep_completed_total",
		Help: "Number of enrollments completed for exceeding the program duration",
	}, []string{programLabel})

	// SweepFailures counts enrollments the sweep could not complete.
	SweepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_sweep_failures_total",
		Help: "Number of enrollments that failed during the sweep",
	}, []string{programLabel})

	// SweepDuration is how long a full sweep takes.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "careflow_sweep_duration_seconds",
		Help:    "Sweep run duration in seconds",
		Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900},
	})

	// HTTPRequests counts handled API requests.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careflow_http_requests_total",
		Help: "Number of HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	// HTTPLatency is the request handling latency.
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "careflow_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		Transitions,
		EnrollmentsCreated,
		StrategySkips,
		StrategyErrors,
		SweepCompleted,
		SweepFailures,
		SweepDuration,
		HTTPRequests,
		HTTPLatency,
	)
}

func Reset() {
	Transitions.Reset()
	EnrollmentsCreated.Reset()
	StrategySkips.Reset()
	StrategyErrors.Reset()
	SweepCompleted.Reset()
	SweepFailures.Reset()
	HTTPRequests.Reset()
	HTTPLatency.Reset()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts and latency per route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			HTTPLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
