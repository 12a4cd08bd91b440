package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kmp.org/internal/activities"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/authorizations":                  "/v1/authorizations",
		"/v1/authorizations/01J9":             "/v1/authorizations/:id",
		"/v1/authorizations/01J9/revoke":      "/v1/authorizations/:id/revoke",
		"/v1/authorizations/01J9/retract":     "/v1/authorizations/:id/retract",
		"/v1/authorizations/01J9/extra":       "/v1/authorizations/01J9/extra",
		"/v1/approvals/01J9/approve":          "/v1/approvals/:id/approve",
		"/v1/approvals/01J9/deny?x=1":         "/v1/approvals/:id/deny",
		"/v1/members/42/authorizations":       "/v1/members/:id/authorizations",
		"/v1/members/42/approvals":            "/v1/members/:id/approvals",
		"/v1/members/42/authorizations/extra": "/v1/members/42/authorizations/extra",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&activities.Error{Op: "approve", Kind: activities.ErrNotFound}, "not_found"},
		{&activities.Error{Op: "approve", Kind: activities.ErrPrecondition}, "precondition"},
		{&activities.Error{Op: "approve", Kind: activities.ErrConflict}, "conflict"},
		{&activities.Error{Op: "approve", Kind: activities.ErrNotification}, "notification"},
		{&activities.Error{Op: "approve", Kind: activities.ErrForbidden}, "forbidden"},
		{errors.New("disk full"), "persistence"},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v)=%q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestObserveOperation(t *testing.T) {
	Init()
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("deny", "precondition"))
	ObserveOperation("deny", &activities.Error{Op: "deny", Kind: activities.ErrPrecondition}, 5*time.Millisecond)
	after := testutil.ToFloat64(operationsTotal.WithLabelValues("deny", "precondition"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestInstrumentUsesCanonicalPath(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/approvals/:id/deny", "418")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/approvals/abc/deny", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected counter to increase, got %v -> %v", before, got)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("dropped")
	l.Warn("kept", "event", "test_event")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["event"] != "test_event" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, err := NewLogger(&buf, "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetBuildInfoReplacesLabels(t *testing.T) {
	SetBuildInfo("v1.0.0", "abc123", "memory")
	SetBuildInfo("v1.1.0", "def456", "postgres")

	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
	labels := buildLabels("v1.1.0", "def456", "postgres")
	if labels[1] != "def456" || labels[3] != "postgres" || labels[2] == "" {
		t.Fatalf("unexpected labels: %v", labels)
	}
	if got := testutil.ToFloat64(buildInfo.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected build_info 1, got %v", got)
	}
	if labels := buildLabels("dev", "", "memory"); labels[1] == "" {
		t.Fatal("expected a commit label for an empty commit")
	}
}
