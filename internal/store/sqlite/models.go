package sqlite

import (
	"time"

	"kmp.org/internal/activities"
)

var migrateModels = []any{
	&activityModel{},
	&memberModel{},
	&authorizationModel{},
	&approvalModel{},
	&memberRoleModel{},
}

type activityModel struct {
	ID                     string  `gorm:"column:id;primaryKey"`
	Name                   string  `gorm:"column:name;not null"`
	NumRequiredAuthorizors int     `gorm:"column:num_required_authorizors;not null;default:1"`
	NumRequiredRenewers    int     `gorm:"column:num_required_renewers;not null;default:1"`
	TermLength             int     `gorm:"column:term_length;not null"`
	MinimumAge             *int    `gorm:"column:minimum_age"`
	MaximumAge             *int    `gorm:"column:maximum_age"`
	GrantsRoleID           *string `gorm:"column:grants_role_id"`
	PermissionID           *string `gorm:"column:permission_id"`
}

func (activityModel) TableName() string { return "activities" }

func activityModelFromEntity(a activities.Activity) activityModel {
	return activityModel{
		ID:                     a.ID,
		Name:                   a.Name,
		NumRequiredAuthorizors: a.NumRequiredAuthorizors,
		NumRequiredRenewers:    a.NumRequiredRenewers,
		TermLength:             a.TermYears,
		MinimumAge:             a.MinimumAge,
		MaximumAge:             a.MaximumAge,
		GrantsRoleID:           optional(a.GrantsRoleID),
		PermissionID:           optional(a.PermissionID),
	}
}

func (m activityModel) toEntity() activities.Activity {
	return activities.Activity{
		ID:                     m.ID,
		Name:                   m.Name,
		NumRequiredAuthorizors: m.NumRequiredAuthorizors,
		NumRequiredRenewers:    m.NumRequiredRenewers,
		TermYears:              m.TermLength,
		MinimumAge:             m.MinimumAge,
		MaximumAge:             m.MaximumAge,
		GrantsRoleID:           deref(m.GrantsRoleID),
		PermissionID:           deref(m.PermissionID),
	}
}

type memberModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	DisplayName string `gorm:"column:display_name;not null"`
	Email       string `gorm:"column:email"`
}

func (memberModel) TableName() string { return "members" }

type authorizationModel struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	MemberID            string     `gorm:"column:member_id;not null;index:idx_authorizations_member_activity"`
	ActivityID          string     `gorm:"column:activity_id;not null;index:idx_authorizations_member_activity"`
	Status              string     `gorm:"column:status;not null"`
	ApprovalCount       int        `gorm:"column:approval_count;not null;default:0"`
	RequestedOn         time.Time  `gorm:"column:requested_on;not null"`
	StartOn             *time.Time `gorm:"column:start_on"`
	ExpiresOn           *time.Time `gorm:"column:expires_on"`
	IsRenewal           bool       `gorm:"column:is_renewal;not null;default:false"`
	GrantedMemberRoleID *string    `gorm:"column:granted_member_role_id"`
	RevokerID           *string    `gorm:"column:revoker_id"`
	RevokedReason       string     `gorm:"column:revoked_reason;not null;default:''"`

	Member   memberModel   `gorm:"foreignKey:MemberID"`
	Activity activityModel `gorm:"foreignKey:ActivityID"`
}

func (authorizationModel) TableName() string { return "authorizations" }

func authorizationModelFromEntity(a activities.Authorization) authorizationModel {
	return authorizationModel{
		ID:                  a.ID,
		MemberID:            a.MemberID,
		ActivityID:          a.ActivityID,
		Status:              string(a.Status),
		ApprovalCount:       a.ApprovalCount,
		RequestedOn:         a.RequestedOn.UTC(),
		StartOn:             utc(a.StartOn),
		ExpiresOn:           utc(a.ExpiresOn),
		IsRenewal:           a.IsRenewal,
		GrantedMemberRoleID: optional(a.GrantedMemberRole),
		RevokerID:           optional(a.RevokerID),
		RevokedReason:       a.RevokedReason,
	}
}

func (m authorizationModel) toEntity() activities.Authorization {
	return activities.Authorization{
		ID:                m.ID,
		MemberID:          m.MemberID,
		ActivityID:        m.ActivityID,
		Status:            activities.Status(m.Status),
		ApprovalCount:     m.ApprovalCount,
		RequestedOn:       m.RequestedOn.UTC(),
		StartOn:           utc(m.StartOn),
		ExpiresOn:         utc(m.ExpiresOn),
		IsRenewal:         m.IsRenewal,
		GrantedMemberRole: deref(m.GrantedMemberRoleID),
		RevokerID:         deref(m.RevokerID),
		RevokedReason:     m.RevokedReason,
	}
}

type approvalModel struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	AuthorizationID    string     `gorm:"column:authorization_id;not null;index"`
	ApproverID         *string    `gorm:"column:approver_id;index:idx_approvals_pending"`
	AuthorizationToken string     `gorm:"column:authorization_token;not null;uniqueIndex"`
	RequestedOn        time.Time  `gorm:"column:requested_on;not null;index:idx_approvals_pending"`
	RespondedOn        *time.Time `gorm:"column:responded_on"`
	Approved           bool       `gorm:"column:approved;not null;default:false"`
	ApproverNotes      string     `gorm:"column:approver_notes;not null;default:''"`

	Authorization authorizationModel `gorm:"foreignKey:AuthorizationID"`
}

func (approvalModel) TableName() string { return "authorization_approvals" }

func approvalModelFromEntity(a activities.AuthorizationApproval) approvalModel {
	return approvalModel{
		ID:                 a.ID,
		AuthorizationID:    a.AuthorizationID,
		ApproverID:         optional(a.ApproverID),
		AuthorizationToken: a.AuthorizationToken,
		RequestedOn:        a.RequestedOn.UTC(),
		RespondedOn:        utc(a.RespondedOn),
		Approved:           a.Approved,
		ApproverNotes:      a.ApproverNotes,
	}
}

func (m approvalModel) toEntity() activities.AuthorizationApproval {
	return activities.AuthorizationApproval{
		ID:                 m.ID,
		AuthorizationID:    m.AuthorizationID,
		ApproverID:         deref(m.ApproverID),
		AuthorizationToken: m.AuthorizationToken,
		RequestedOn:        m.RequestedOn.UTC(),
		RespondedOn:        utc(m.RespondedOn),
		Approved:           m.Approved,
		ApproverNotes:      m.ApproverNotes,
	}
}

type memberRoleModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	MemberID   string    `gorm:"column:member_id;not null;index"`
	RoleID     string    `gorm:"column:role_id;not null"`
	StartOn    time.Time `gorm:"column:start_on;not null"`
	ExpiresOn  time.Time `gorm:"column:expires_on;not null"`
	ApproverID *string   `gorm:"column:approver_id"`
	EntityType string    `gorm:"column:entity_type;not null"`
	EntityID   string    `gorm:"column:entity_id;not null"`
}

func (memberRoleModel) TableName() string { return "member_roles" }

func (m memberRoleModel) toEntity() activities.MemberRole {
	return activities.MemberRole{
		ID:         m.ID,
		MemberID:   m.MemberID,
		RoleID:     m.RoleID,
		StartOn:    m.StartOn.UTC(),
		ExpiresOn:  m.ExpiresOn.UTC(),
		ApproverID: deref(m.ApproverID),
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
