package stream

import (
	"context"
	"testing"
	"time"

	"kmp.org/internal/activities"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	s.Publish(Event{Type: "authorization.approve", AuthorizationID: "a1", Status: activities.StatusApproved})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.AuthorizationID != "a1" || evt.Timestamp.IsZero() {
				t.Fatalf("unexpected event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	for i := 0; i < 20; i++ {
		s.Publish(Event{Type: "authorization.request"})
	}
	if got := s.Dropped(); got != 4 {
		t.Fatalf("expected 4 dropped events, got %d", got)
	}
}

func TestMatches(t *testing.T) {
	evt := Event{MemberID: "5"}
	if !evt.Matches("") || !evt.Matches("5") || evt.Matches("9") {
		t.Fatal("unexpected filter result")
	}
}
