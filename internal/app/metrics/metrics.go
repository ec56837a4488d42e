package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "issuance_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mintAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "mints_total",
			Help:      "Total number of mint attempts by path and outcome.",
		},
		[]string{"kind", "result"},
	)

	mintedUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "minted_units_total",
			Help:      "Total number of units issued by path.",
		},
		[]string{"kind"},
	)

	saleWindowOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "sale_window_open",
			Help:      "Whether the public sale window of an item is open (1) or closed (0).",
		},
		[]string{"item"},
	)

	windowSweeps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "windows",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sale window sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mintAttempts,
		mintedUnits,
		saleWindowOpen,
		windowSweeps,
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

// RecordMint records the outcome of a mint attempt. Units are only counted
// for successful mints.
func RecordMint(kind, result string, quantity uint64) {
	if kind == "" {
		kind = "unknown"
	}
	mintAttempts.WithLabelValues(kind, result).Inc()
	if result == ResultSuccess && quantity > 0 {
		mintedUnits.WithLabelValues(kind).Add(float64(quantity))
	}
}

// ResultSuccess is the result label of a successful mint.
const ResultSuccess = "success"

// SetSaleWindow publishes whether the sale window of itemID is open.
func SetSaleWindow(itemID uint64, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	saleWindowOpen.WithLabelValues(strconv.FormatUint(itemID, 10)).Set(value)
}

// RecordWindowSweep records how long a sale window sweep took.
func RecordWindowSweep(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	windowSweeps.Observe(duration.Seconds())
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

// canonicalPath collapses identifiers so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "items":
		switch len(parts) {
		case 1:
			return "/items"
		case 2:
			return "/items/:id"
		default:
			return "/items/:id/" + parts[2]
		}
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		return "/accounts/:account/items/:id"
	case "treasury", "settings":
		return "/" + strings.Join(parts, "/")
	}
	return "/" + parts[0]
}
