// Package stream fans authorization events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"kmp.org/internal/activities"
)

// Event is one committed change to an authorization.
type Event struct {
	Type            string            `json:"type"`
	AuthorizationID string            `json:"authorization_id"`
	MemberID        string            `json:"member_id"`
	ActivityID      string            `json:"activity_id"`
	Status          activities.Status `json:"status"`
	ActorID         string            `json:"actor_id,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Matches reports whether the event concerns memberID. An empty filter
// matches everything.
func (e Event) Matches(memberID string) bool {
	return memberID == "" || e.MemberID == memberID
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped uint64
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
			s.dropped++
		}
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
