package notify

import (
	"context"
	"sync"

	"kmp.org/internal/activities"
)

var _ activities.Notifier = (*Recorder)(nil)

// Recorder keeps every notice in memory. Setting Err makes every send fail
// without recording.
type Recorder struct {
	mu sync.Mutex

	Err error

	ApprovalRequests []activities.ApprovalRequestNotice
	StatusChanges    []activities.StatusChangeNotice
	Retractions      []activities.RetractionNotice
}

func (r *Recorder) SendApprovalRequest(_ context.Context, n activities.ApprovalRequestNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.ApprovalRequests = append(r.ApprovalRequests, n)
	return nil
}

func (r *Recorder) SendStatusChange(_ context.Context, n activities.StatusChangeNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.StatusChanges = append(r.StatusChanges, n)
	return nil
}

func (r *Recorder) SendRetraction(_ context.Context, n activities.RetractionNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Retractions = append(r.Retractions, n)
	return nil
}

// SetErr changes the failure injected into subsequent sends.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// Reset drops every recorded notice.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ApprovalRequests = nil
	r.StatusChanges = nil
	r.Retractions = nil
}
