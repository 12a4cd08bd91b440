package activities

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"kmp.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Transactions
// are serialized and run against a copy of the state that replaces the
// committed state only when the transaction function succeeds.
type InMemory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	activities map[string]Activity
	members    map[string]Member
	auths      map[string]Authorization
	approvals  map[string]AuthorizationApproval
	roles      map[string]MemberRole
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{state: &memState{
		activities: make(map[string]Activity),
		members:    make(map[string]Member),
		auths:      make(map[string]Authorization),
		approvals:  make(map[string]AuthorizationApproval),
		roles:      make(map[string]MemberRole),
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		activities: maps.Clone(s.activities),
		members:    maps.Clone(s.members),
		auths:      maps.Clone(s.auths),
		approvals:  maps.Clone(s.approvals),
		roles:      maps.Clone(s.roles),
	}
}

// WithinTx implements Store.
func (m *InMemory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// PutActivity stores an activity definition outside of any workflow.
func (m *InMemory) PutActivity(a Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.activities[a.ID] = a
}

// PutMember stores a member record outside of any workflow.
func (m *InMemory) PutMember(mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.members[mem.ID] = mem
}

// PutAuthorization stores an authorization as-is, e.g. to seed history.
func (m *InMemory) PutAuthorization(a Authorization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.auths[a.ID] = a
}

// PutRole stores a role grant as-is.
func (m *InMemory) PutRole(r MemberRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.roles[r.ID] = r
}

// Authorizations returns every committed authorization ordered by request time.
func (m *InMemory) Authorizations() []Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Authorization, 0, len(m.state.auths))
	for _, a := range m.state.auths {
		out = append(out, a)
	}
	sortAuthorizations(out)
	return out
}

// Approvals returns the committed approvals for one authorization.
func (m *InMemory) Approvals(authorizationID string) []AuthorizationApproval {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuthorizationApproval
	for _, a := range m.state.approvals {
		if a.AuthorizationID == authorizationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedOn.Equal(out[j].RequestedOn) {
			return out[i].RequestedOn.Before(out[j].RequestedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Role returns a committed role grant.
func (m *InMemory) Role(id string) (MemberRole, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.roles[id]
	return r, ok
}

// Roles returns every committed role grant.
func (m *InMemory) Roles() []MemberRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemberRole, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortAuthorizations(list []Authorization) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].RequestedOn.Equal(list[j].RequestedOn) {
			return list[i].RequestedOn.Before(list[j].RequestedOn)
		}
		return list[i].ID < list[j].ID
	})
}

type memTx struct{ s *memState }

func (t memTx) Activities() ActivityStore         { return memActivities{t.s} }
func (t memTx) Members() MemberStore               { return memMembers{t.s} }
func (t memTx) Authorizations() AuthorizationStore { return memAuths{t.s} }
func (t memTx) Approvals() ApprovalStore           { return memApprovals{t.s} }
func (t memTx) Roles() RoleStore                   { return memRoles{t.s} }

type memActivities struct{ s *memState }

func (r memActivities) Find(_ context.Context, id string) (Activity, error) {
	a, ok := r.s.activities[id]
	if !ok {
		return Activity{}, ErrNotFound
	}
	return a, nil
}

type memMembers struct{ s *memState }

func (r memMembers) Find(_ context.Context, id string) (Member, error) {
	m, ok := r.s.members[id]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

type memAuths struct{ s *memState }

func (r memAuths) Create(_ context.Context, a *Authorization) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := r.s.auths[a.ID]; ok {
		return ErrConflict
	}
	r.s.auths[a.ID] = *a
	return nil
}

func (r memAuths) Find(_ context.Context, id string) (Authorization, error) {
	a, ok := r.s.auths[id]
	if !ok {
		return Authorization{}, ErrNotFound
	}
	return a, nil
}

func (r memAuths) Get(ctx context.Context, id string) (Authorization, error) {
	return r.Find(ctx, id)
}

func (r memAuths) Update(_ context.Context, a Authorization) error {
	if _, ok := r.s.auths[a.ID]; !ok {
		return ErrNotFound
	}
	r.s.auths[a.ID] = a
	return nil
}

// LockPair is a no-op: memory transactions are already serialized.
func (r memAuths) LockPair(context.Context, string, string) error { return nil }

func (r memAuths) CountCurrent(ctx context.Context, memberID, activityID string, now time.Time) (int, error) {
	list, err := r.ListCurrent(ctx, memberID, activityID, now)
	return len(list), err
}

func (r memAuths) CountOpen(_ context.Context, memberID, activityID string) (int, error) {
	n := 0
	for _, a := range r.s.auths {
		if a.MemberID == memberID && a.ActivityID == activityID && a.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (r memAuths) ListCurrent(_ context.Context, memberID, activityID string, now time.Time) ([]Authorization, error) {
	var out []Authorization
	for _, a := range r.s.auths {
		if a.MemberID == memberID && a.ActivityID == activityID && a.Current(now) {
			out = append(out, a)
		}
	}
	sortAuthorizations(out)
	return out, nil
}

func (r memAuths) ListByMember(_ context.Context, memberID string) ([]Authorization, error) {
	var out []Authorization
	for _, a := range r.s.auths {
		if a.MemberID == memberID {
			out = append(out, a)
		}
	}
	sortAuthorizations(out)
	return out, nil
}

func (r memAuths) ExpireLapsed(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, a := range r.s.auths {
		if a.EffectiveStatus(now) == StatusExpired && a.Status != StatusExpired {
			a.Status = StatusExpired
			r.s.auths[id] = a
			n++
		}
	}
	return n, nil
}

type memApprovals struct{ s *memState }

func (r memApprovals) Create(_ context.Context, a *AuthorizationApproval) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := r.s.auths[a.AuthorizationID]; !ok {
		return ErrNotFound
	}
	if _, ok := r.s.approvals[a.ID]; ok {
		return ErrConflict
	}
	r.s.approvals[a.ID] = *a
	return nil
}

func (r memApprovals) Find(_ context.Context, id string) (AuthorizationApproval, error) {
	a, ok := r.s.approvals[id]
	if !ok {
		return AuthorizationApproval{}, ErrNotFound
	}
	return a, nil
}

func (r memApprovals) Update(_ context.Context, a AuthorizationApproval) error {
	if _, ok := r.s.approvals[a.ID]; !ok {
		return ErrNotFound
	}
	r.s.approvals[a.ID] = a
	return nil
}

func (r memApprovals) CountAccepted(_ context.Context, authorizationID string) (int, error) {
	n := 0
	for _, a := range r.s.approvals {
		if a.AuthorizationID == authorizationID && a.Approved {
			n++
		}
	}
	return n, nil
}

func (r memApprovals) HasAccepted(_ context.Context, authorizationID, approverID string) (bool, error) {
	for _, a := range r.s.approvals {
		if a.AuthorizationID == authorizationID && a.ApproverID == approverID && a.Approved {
			return true, nil
		}
	}
	return false, nil
}

func (r memApprovals) ListOpen(_ context.Context, authorizationID string) ([]AuthorizationApproval, error) {
	var out []AuthorizationApproval
	for _, a := range r.s.approvals {
		if a.AuthorizationID == authorizationID && !a.Responded() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memApprovals) FindByToken(_ context.Context, token string) (AuthorizationApproval, error) {
	for _, a := range r.s.approvals {
		if token != "" && a.AuthorizationToken == token {
			return a, nil
		}
	}
	return AuthorizationApproval{}, ErrNotFound
}

func (r memApprovals) ListPendingFor(_ context.Context, approverID string) ([]AuthorizationApproval, error) {
	var out []AuthorizationApproval
	for _, a := range r.s.approvals {
		if a.ApproverID == approverID && !a.Responded() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedOn.Equal(out[j].RequestedOn) {
			return out[i].RequestedOn.Before(out[j].RequestedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memRoles struct{ s *memState }

func (r memRoles) Grant(_ context.Context, role *MemberRole) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	r.s.roles[role.ID] = *role
	return nil
}

func (r memRoles) End(_ context.Context, id string, at time.Time) error {
	role, ok := r.s.roles[id]
	if !ok {
		return ErrNotFound
	}
	if at.Before(role.ExpiresOn) {
		role.ExpiresOn = at
		r.s.roles[id] = role
	}
	return nil
}
