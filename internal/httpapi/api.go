// Package httpapi exposes the authorization workflow over JSON HTTP and a
// gRPC health service.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kmp.org/internal/activities"
	"kmp.org/internal/obs"
	"kmp.org/internal/stream"
)

const serviceName = "kmp-api"

// Pinger is satisfied by *sql.DB and the store wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck checks the backing store. A nil store is always ready.
type ReadyCheck struct {
	Store Pinger
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *activities.Service
	readiness readinessChecker
	version    string
	events     *stream.Stream
	tokens     TokenVerifier

	ratePerSec float64
	rateBurst  int
	maxBody    int64
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket. A zero rate disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithTokens sets the verifier for bearer tokens on /v1 routes. Without one
// every /v1 request fails.
func WithTokens(v TokenVerifier) Option {
	return func(a *API) {
		a.tokens = v
	}
}

// WithEvents publishes committed changes to s and serves them on /v1/events.
func WithEvents(s *stream.Stream) Option {
	return func(a *API) {
		a.events = s
	}
}

func New(svc *activities.Service, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readiness: rp,
		version:    version,
		ratePerSec: 20,
		rateBurst:  40,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readiness == nil {
		a.readiness = ReadyCheck{}
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("POST /v1/authorizations", a.withAuth(http.HandlerFunc(a.requestAuthorization)))
	a.mux.Handle("GET /v1/authorizations/{id}", a.withAuth(http.HandlerFunc(a.getAuthorization)))
	a.mux.Handle("POST /v1/authorizations/{id}/revoke", a.withAuth(http.HandlerFunc(a.revokeAuthorization)))
	a.mux.Handle("POST /v1/authorizations/{id}/retract", a.withAuth(http.HandlerFunc(a.retractAuthorization)))
	a.mux.Handle("GET /v1/members/{id}/authorizations", a.withAuth(http.HandlerFunc(a.memberAuthorizations)))
	a.mux.Handle("GET /v1/members/{id}/approvals", a.withAuth(http.HandlerFunc(a.pendingApprovals)))
	a.mux.Handle("GET /v1/approvals", a.withAuth(http.HandlerFunc(a.approvalByToken)))
	a.mux.Handle("POST /v1/approvals/{id}/approve", a.withAuth(http.HandlerFunc(a.approve)))
	a.mux.Handle("POST /v1/approvals/{id}/deny", a.withAuth(http.HandlerFunc(a.deny)))
	a.mux.Handle("GET /v1/events", a.withAuth(http.HandlerFunc(a.Events)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
