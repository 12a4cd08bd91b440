package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kmp.org/internal/auth"
)

func testTokens(t *testing.T, secret string) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens(secret)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func authProtected(t *testing.T, v TokenVerifier) (http.Handler, *string) {
	t.Helper()
	var seen string
	a := &API{tokens: v}
	h := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.MemberIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &seen
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	tokens := testTokens(t, "test-secret")
	h, seen := authProtected(t, tokens)
	token, err := tokens.Issue("42", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/authorizations/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "42" {
		t.Fatalf("expected member 42 in context, got %q", *seen)
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	h, _ := authProtected(t, testTokens(t, "test-secret"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/authorizations/x", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthRejectsForeignToken(t *testing.T) {
	token, err := testTokens(t, "another-secret").Issue("42", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	h, seen := authProtected(t, testTokens(t, "test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/v1/authorizations/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if *seen != "" {
		t.Fatalf("handler must not run, saw member %q", *seen)
	}
}

func TestWithAuthWithoutVerifier(t *testing.T) {
	h, _ := authProtected(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/authorizations/x", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Basic abc":     false,
		"Bearer ":       false,
		"Bear":          false,
		"bearer tok123": true,
		"Bearer tok123": true,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("extractBearerToken(%q) err=%v, want ok=%v", header, err, ok)
		}
	}
}
