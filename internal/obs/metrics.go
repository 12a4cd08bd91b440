package obs

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kmp.org/internal/activities"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kmp_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Workflow metrics
var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmp_authorization_operations_total",
			Help: "Authorization workflow operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kmp_authorization_operation_duration_seconds",
			Help:    "Authorization workflow operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// buildInfo is a constant 1 labelled with what is running and against which
// record store.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kmp_build_info",
		Help: "KMP workflow service build information.",
	},
	[]string{"version", "commit", "go_version", "store"},
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			operationsTotal, operationDuration, buildInfo,
		)
	})
}

// SetBuildInfo publishes kmp_build_info. A commit left at "none" by the
// linker falls back to the VCS revision the toolchain stamped, if any.
func SetBuildInfo(version, commit, store string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(buildLabels(version, commit, store)...).Set(1)
}

func buildLabels(version, commit, store string) []string {
	goVersion := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		goVersion = info.GoVersion
		if commit == "" || commit == "none" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	if commit == "" {
		commit = "none"
	}
	return []string{version, commit, goVersion, store}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Outcome names the error kind of a workflow result for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, activities.ErrNotFound):
		return "not_found"
	case errors.Is(err, activities.ErrPrecondition):
		return "precondition"
	case errors.Is(err, activities.ErrConflict):
		return "conflict"
	case errors.Is(err, activities.ErrNotification):
		return "notification"
	case errors.Is(err, activities.ErrForbidden):
		return "forbidden"
	default:
		return "persistence"
	}
}

// ObserveOperation records one workflow operation. It matches
// activities.Observer.
func ObserveOperation(op string, err error, elapsed time.Duration) {
	operationsTotal.WithLabelValues(op, Outcome(err)).Inc()
	operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Instrument measures request rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath replaces record identifiers with :id so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "authorizations":
		switch {
		case len(parts) == 3:
			return "/v1/authorizations/:id"
		case len(parts) == 4 && (parts[3] == "revoke" || parts[3] == "retract"):
			return "/v1/authorizations/:id/" + parts[3]
		}
	case "approvals":
		if len(parts) == 4 && (parts[3] == "approve" || parts[3] == "deny") {
			return "/v1/approvals/:id/" + parts[3]
		}
	case "members":
		if len(parts) == 4 && (parts[3] == "authorizations" || parts[3] == "approvals") {
			return "/v1/members/:id/" + parts[3]
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
