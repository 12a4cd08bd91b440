package activities

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRequiredApprovals(t *testing.T) {
	act := Activity{NumRequiredAuthorizors: 2, NumRequiredRenewers: 1}
	cases := []struct {
		name     string
		renewal  bool
		activity Activity
		want     int
	}{
		{"initial", false, act, 2},
		{"renewal", true, act, 1},
		{"zero initial normalized", false, Activity{}, 1},
		{"negative renewal normalized", true, Activity{NumRequiredRenewers: -3}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequiredApprovals(tc.renewal, tc.activity); got != tc.want {
				t.Fatalf("RequiredApprovals=%d, want %d", got, tc.want)
			}
		})
	}
}

func TestNeedsMoreApprovals(t *testing.T) {
	cases := []struct {
		required, accepted int
		want               bool
	}{
		{1, 0, false},
		{1, 1, false},
		{2, 1, true},
		{2, 2, false},
		{3, 2, true},
		{3, 4, false},
	}
	for _, tc := range cases {
		if got := NeedsMoreApprovals(tc.required, tc.accepted); got != tc.want {
			t.Fatalf("NeedsMoreApprovals(%d,%d)=%v, want %v", tc.required, tc.accepted, got, tc.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	act := Activity{NumRequiredAuthorizors: 2, NumRequiredRenewers: 1}
	if d, req := Evaluate(false, act, 1); d != DecisionForward || req != 2 {
		t.Fatalf("expected forward/2, got %s/%d", d, req)
	}
	if d, _ := Evaluate(false, act, 2); d != DecisionGrant {
		t.Fatalf("expected grant, got %s", d)
	}
	if d, req := Evaluate(true, act, 1); d != DecisionGrant || req != 1 {
		t.Fatalf("expected grant/1 for renewal, got %s/%d", d, req)
	}
}

func TestNextApprovalCountIsBounded(t *testing.T) {
	if got := nextApprovalCount(0, 2); got != 1 {
		t.Fatalf("got %d", got)
	}
	if got := nextApprovalCount(2, 2); got != 2 {
		t.Fatalf("count exceeded required: %d", got)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusNew, StatusPending}:        true,
		{StatusNew, StatusApproved}:       true,
		{StatusPending, StatusApproved}:   true,
		{StatusPending, StatusRejected}:   true,
		{StatusApproved, StatusRevoked}:   true,
		{StatusPending, StatusRevoked}:    true,
		{StatusNew, StatusRetracted}:      true,
		{StatusApproved, StatusExpired}:   true,
		{StatusApproved, StatusPending}:   false,
		{StatusRejected, StatusApproved}:  false,
		{StatusRevoked, StatusRevoked}:    false,
		{StatusApproved, StatusRetracted}: false,
		{StatusExpired, StatusRevoked}:    false,
	}
	for pair, want := range allowed {
		if got := CanTransition(pair[0], pair[1]); got != want {
			t.Fatalf("CanTransition(%s,%s)=%v, want %v", pair[0], pair[1], got, want)
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	a := Authorization{Status: StatusApproved, ExpiresOn: &past}
	if got := a.EffectiveStatus(now); got != StatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if a.Current(now) {
		t.Fatal("lapsed authorization reported current")
	}
	a.ExpiresOn = &future
	if got := a.EffectiveStatus(now); got != StatusApproved {
		t.Fatalf("expected approved, got %s", got)
	}
	r := Authorization{Status: StatusRevoked, ExpiresOn: &past}
	if got := r.EffectiveStatus(now); got != StatusRevoked {
		t.Fatalf("revoked should stay revoked, got %s", got)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusPending, StatusApproved, StatusRejected, StatusRevoked, StatusExpired, StatusRetracted} {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if Status("Approved").Valid() {
		t.Fatal("unexpected valid status")
	}
}

func TestErrorUnwrapHidesCause(t *testing.T) {
	cause := ErrNotFound
	err := classify("approve", cause, "failed to load thing")
	if err.Kind != ErrNotFound {
		t.Fatalf("unexpected kind %v", err.Kind)
	}
	storeFault := &Error{Op: "x", Kind: ErrPersistence, Reason: "failed to save", cause: errTest}
	if storeFault.Unwrap() != ErrPersistence {
		t.Fatal("unwrap should expose the kind only")
	}
	if Reason(storeFault) != "failed to save" {
		t.Fatalf("unexpected reason %q", Reason(storeFault))
	}
	if storeFault.Cause() != errTest {
		t.Fatal("cause should be kept for logging")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("connection reset")
