package activities

import "time"

// Status is the lifecycle state of an Authorization.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
	StatusRetracted Status = "retracted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPending, StatusApproved, StatusRejected,
		StatusRevoked, StatusExpired, StatusRetracted:
		return true
	default:
		return false
	}
}

// Open reports whether the authorization is still waiting on approvers.
func (s Status) Open() bool {
	switch s {
	case StatusNew, StatusPending:
		return true
	default:
		return false
	}
}

// Activity is a kind of authorization members can request.
type Activity struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	NumRequiredAuthorizors int    `json:"num_required_authorizors"`
	NumRequiredRenewers    int    `json:"num_required_renewers"`
	TermYears              int    `json:"term_years"`
	MinimumAge             *int   `json:"minimum_age,omitempty"`
	MaximumAge             *int   `json:"maximum_age,omitempty"`
	GrantsRoleID           string `json:"grants_role_id,omitempty"`
	PermissionID           string `json:"permission_id,omitempty"`
}

// Member is the subset of a member record the workflow needs for notices.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Authorization is one member's request for, or grant of, an Activity.
type Authorization struct {
	ID                string     `json:"id"`
	MemberID          string     `json:"member_id"`
	ActivityID        string     `json:"activity_id"`
	Status            Status     `json:"status"`
	ApprovalCount     int        `json:"approval_count"`
	RequestedOn       time.Time  `json:"requested_on"`
	StartOn           *time.Time `json:"start_on,omitempty"`
	ExpiresOn         *time.Time `json:"expires_on,omitempty"`
	IsRenewal         bool       `json:"is_renewal"`
	GrantedMemberRole string     `json:"granted_member_role,omitempty"`
	RevokerID         string     `json:"revoker_id,omitempty"`
	RevokedReason     string     `json:"revoked_reason,omitempty"`
}

// EffectiveStatus classifies an approved authorization whose window has
// passed as expired without requiring a write.
func (a Authorization) EffectiveStatus(now time.Time) Status {
	if a.Status == StatusApproved && a.ExpiresOn != nil && !a.ExpiresOn.After(now) {
		return StatusExpired
	}
	return a.Status
}

// Current reports whether a is approved and unexpired at now.
func (a Authorization) Current(now time.Time) bool {
	return a.Status == StatusApproved && a.ExpiresOn != nil && a.ExpiresOn.After(now)
}

// AuthorizationApproval is one approver's decision on an Authorization.
type AuthorizationApproval struct {
	ID                 string     `json:"id"`
	AuthorizationID    string     `json:"authorization_id"`
	ApproverID         string     `json:"approver_id"`
	AuthorizationToken string     `json:"-"`
	RequestedOn        time.Time  `json:"requested_on"`
	RespondedOn        *time.Time `json:"responded_on,omitempty"`
	Approved           bool       `json:"approved"`
	ApproverNotes      string     `json:"approver_notes,omitempty"`
}

// Responded reports whether the approver has answered.
func (a AuthorizationApproval) Responded() bool {
	return a.RespondedOn != nil
}

// MemberRole is a time-bounded role grant created by a final approval.
type MemberRole struct {
	ID         string    `json:"id"`
	MemberID   string    `json:"member_id"`
	RoleID     string    `json:"role_id"`
	StartOn    time.Time `json:"start_on"`
	ExpiresOn  time.Time `json:"expires_on"`
	ApproverID string    `json:"approver_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
}

// EntityTypeAuthorization marks role grants whose source is an Authorization.
const EntityTypeAuthorization = "Activities.Authorizations"
