package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Total number of accepted raffle entries.",
		},
	)

	entryAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "entry_amount_total",
			Help:      "Total value collected from accepted entries.",
		},
	)

	potGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "pot",
			Help:      "Pot of the current round.",
		},
	)

	drawsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Total number of randomness requests issued.",
		},
	)

	roundsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "rounds_resolved_total",
			Help:      "Total number of rounds resolved and paid out.",
		},
	)

	payoutAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "payout_amount_total",
			Help:      "Total value paid out to winners.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entriesTotal,
		entryAmount,
		potGauge,
		drawsRequested,
		roundsResolved,
		payoutAmount,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry records an accepted raffle entry.
func RecordEntry(amount int64) {
	entriesTotal.Inc()
	if amount > 0 {
		entryAmount.Add(float64(amount))
	}
}

// SetPot publishes the current round's pot.
func SetPot(pot int64) {
	potGauge.Set(float64(pot))
}

// RecordDrawRequested records an issued randomness request.
func RecordDrawRequested() {
	drawsRequested.Inc()
}

// RecordRoundResolved records a resolved round and its payout.
func RecordRoundResolved(payout int64) {
	roundsResolved.Inc()
	if payout > 0 {
		payoutAmount.Add(float64(payout))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "rounds":
		if len(parts) == 1 {
			return "/rounds"
		}
		return "/rounds/:number"
	case "round":
		if len(parts) >= 3 && parts[1] == "players" {
			return "/round/players/:index"
		}
		return "/" + strings.Join(parts, "/")
	case "ledger":
		if len(parts) == 1 {
			return "/ledger"
		}
		if len(parts) == 2 {
			return "/ledger/:owner"
		}
		return "/ledger/:owner/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
