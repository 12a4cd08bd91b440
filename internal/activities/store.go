package activities

import (
	"context"
	"time"
)

// Store is the transactional record store behind the workflow.
type Store interface {
	// WithinTx runs fn in a single transaction. When fn returns an error
	// every write made through tx is rolled back and that error is
	// returned unchanged; otherwise the transaction is committed.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transaction-scoped view of the record store.
type Tx interface {
	Activities() ActivityStore
	Members() MemberStore
	Authorizations() AuthorizationStore
	Approvals() ApprovalStore
	Roles() RoleStore
}

// ActivityStore reads activity definitions.
type ActivityStore interface {
	Find(ctx context.Context, id string) (Activity, error)
}

// MemberStore reads member records.
type MemberStore interface {
	Find(ctx context.Context, id string) (Member, error)
}

// AuthorizationStore manages authorizations. Find locks the row for the
// rest of the transaction where the backend supports it; Get does not.
type AuthorizationStore interface {
	Create(ctx context.Context, a *Authorization) error
	Find(ctx context.Context, id string) (Authorization, error)
	Get(ctx context.Context, id string) (Authorization, error)
	Update(ctx context.Context, a Authorization) error
	// LockPair serializes final approvals for one (member, activity) pair.
	LockPair(ctx context.Context, memberID, activityID string) error
	CountCurrent(ctx context.Context, memberID, activityID string, now time.Time) (int, error)
	CountOpen(ctx context.Context, memberID, activityID string) (int, error)
	ListCurrent(ctx context.Context, memberID, activityID string, now time.Time) ([]Authorization, error)
	ListByMember(ctx context.Context, memberID string) ([]Authorization, error)
	// ExpireLapsed persists StatusExpired on approved rows whose window has
	// closed and returns how many rows changed.
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)
}

// ApprovalStore manages authorization approvals. Find locks the row for the
// rest of the transaction where the backend supports it.
type ApprovalStore interface {
	Create(ctx context.Context, a *AuthorizationApproval) error
	Find(ctx context.Context, id string) (AuthorizationApproval, error)
	Update(ctx context.Context, a AuthorizationApproval) error
	CountAccepted(ctx context.Context, authorizationID string) (int, error)
	HasAccepted(ctx context.Context, authorizationID, approverID string) (bool, error)
	ListOpen(ctx context.Context, authorizationID string) ([]AuthorizationApproval, error)
	// FindByToken reads the approval issued with token without locking it.
	FindByToken(ctx context.Context, token string) (AuthorizationApproval, error)
	// ListPendingFor returns the unanswered approvals addressed to
	// approverID, oldest first.
	ListPendingFor(ctx context.Context, approverID string) ([]AuthorizationApproval, error)
}

// RoleStore manages time-bounded role grants.
type RoleStore interface {
	Grant(ctx context.Context, r *MemberRole) error
	// End moves the role's expiry back to at. A role that already ended
	// earlier keeps its expiry.
	End(ctx context.Context, id string, at time.Time) error
}
