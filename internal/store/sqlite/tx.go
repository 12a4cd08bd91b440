package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kmp.org/internal/activities"
	"kmp.org/internal/ids"
)

type gormTx struct{ db *gorm.DB }

func (t gormTx) Activities() activities.ActivityStore         { return activityRepo{t.db} }
func (t gormTx) Members() activities.MemberStore               { return memberRepo{t.db} }
func (t gormTx) Authorizations() activities.AuthorizationStore { return authorizationRepo{t.db} }
func (t gormTx) Approvals() activities.ApprovalStore           { return approvalRepo{t.db} }
func (t gormTx) Roles() activities.RoleStore                   { return roleRepo{t.db} }

type activityRepo struct{ db *gorm.DB }

func (r activityRepo) Find(ctx context.Context, id string) (activities.Activity, error) {
	var row activityModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return activities.Activity{}, mapErr(err)
	}
	return row.toEntity(), nil
}

type memberRepo struct{ db *gorm.DB }

func (r memberRepo) Find(ctx context.Context, id string) (activities.Member, error) {
	var row memberModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return activities.Member{}, mapErr(err)
	}
	return activities.Member{ID: row.ID, DisplayName: row.DisplayName, Email: row.Email}, nil
}

type authorizationRepo struct{ db *gorm.DB }

func (r authorizationRepo) Create(ctx context.Context, a *activities.Authorization) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	row := authorizationModelFromEntity(*a)
	return mapErr(r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error)
}

func (r authorizationRepo) Find(ctx context.Context, id string) (activities.Authorization, error) {
	var row authorizationModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return activities.Authorization{}, mapErr(err)
	}
	return row.toEntity(), nil
}

// Get is Find: sqlite has no row locks, writers are serialized instead.
func (r authorizationRepo) Get(ctx context.Context, id string) (activities.Authorization, error) {
	return r.Find(ctx, id)
}

func (r authorizationRepo) Update(ctx context.Context, a activities.Authorization) error {
	row := authorizationModelFromEntity(a)
	res := r.db.WithContext(ctx).Model(&authorizationModel{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"status":                 row.Status,
			"approval_count":         row.ApprovalCount,
			"start_on":               row.StartOn,
			"expires_on":             row.ExpiresOn,
			"granted_member_role_id": row.GrantedMemberRoleID,
			"revoker_id":             row.RevokerID,
			"revoked_reason":         row.RevokedReason,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return activities.ErrNotFound
	}
	return nil
}

// LockPair is a no-op: the store runs one transaction at a time.
func (r authorizationRepo) LockPair(context.Context, string, string) error { return nil }

func (r authorizationRepo) current(ctx context.Context, memberID, activityID string, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&authorizationModel{}).
		Where("member_id = ? AND activity_id = ?", memberID, activityID).
		Where("status = ? AND expires_on > ?", string(activities.StatusApproved), now.UTC())
}

func (r authorizationRepo) CountCurrent(ctx context.Context, memberID, activityID string, now time.Time) (int, error) {
	var n int64
	err := r.current(ctx, memberID, activityID, now).Count(&n).Error
	return int(n), mapErr(err)
}

func (r authorizationRepo) CountOpen(ctx context.Context, memberID, activityID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&authorizationModel{}).
		Where("member_id = ? AND activity_id = ?", memberID, activityID).
		Where("status IN ?", []string{string(activities.StatusNew), string(activities.StatusPending)}).
		Count(&n).Error
	return int(n), mapErr(err)
}

func (r authorizationRepo) ListCurrent(ctx context.Context, memberID, activityID string, now time.Time) ([]activities.Authorization, error) {
	var rows []authorizationModel
	if err := r.current(ctx, memberID, activityID, now).Order("requested_on, id").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return toAuthorizations(rows), nil
}

func (r authorizationRepo) ListByMember(ctx context.Context, memberID string) ([]activities.Authorization, error) {
	var rows []authorizationModel
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("requested_on, id").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return toAuthorizations(rows), nil
}

func (r authorizationRepo) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	res := r.db.WithContext(ctx).Model(&authorizationModel{}).
		Where("status = ? AND expires_on <= ?", string(activities.StatusApproved), now.UTC()).
		Update("status", string(activities.StatusExpired))
	if res.Error != nil {
		return 0, mapErr(res.Error)
	}
	return int(res.RowsAffected), nil
}

func toAuthorizations(rows []authorizationModel) []activities.Authorization {
	out := make([]activities.Authorization, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out
}

type approvalRepo struct{ db *gorm.DB }

func (r approvalRepo) Create(ctx context.Context, a *activities.AuthorizationApproval) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	row := approvalModelFromEntity(*a)
	return mapErr(r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error)
}

func (r approvalRepo) Find(ctx context.Context, id string) (activities.AuthorizationApproval, error) {
	var row approvalModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return activities.AuthorizationApproval{}, mapErr(err)
	}
	return row.toEntity(), nil
}

func (r approvalRepo) Update(ctx context.Context, a activities.AuthorizationApproval) error {
	row := approvalModelFromEntity(a)
	res := r.db.WithContext(ctx).Model(&approvalModel{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"approver_id":    row.ApproverID,
			"responded_on":   row.RespondedOn,
			"approved":       row.Approved,
			"approver_notes": row.ApproverNotes,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return activities.ErrNotFound
	}
	return nil
}

func (r approvalRepo) CountAccepted(ctx context.Context, authorizationID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&approvalModel{}).
		Where("authorization_id = ? AND approved = ?", authorizationID, true).
		Count(&n).Error
	return int(n), mapErr(err)
}

func (r approvalRepo) HasAccepted(ctx context.Context, authorizationID, approverID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&approvalModel{}).
		Where("authorization_id = ? AND approver_id = ? AND approved = ?", authorizationID, approverID, true).
		Count(&n).Error
	return n > 0, mapErr(err)
}

func (r approvalRepo) ListOpen(ctx context.Context, authorizationID string) ([]activities.AuthorizationApproval, error) {
	return r.unanswered(ctx, "authorization_id = ?", authorizationID)
}

func (r approvalRepo) FindByToken(ctx context.Context, token string) (activities.AuthorizationApproval, error) {
	var row approvalModel
	if err := r.db.WithContext(ctx).Where("authorization_token = ?", token).First(&row).Error; err != nil {
		return activities.AuthorizationApproval{}, mapErr(err)
	}
	return row.toEntity(), nil
}

func (r approvalRepo) ListPendingFor(ctx context.Context, approverID string) ([]activities.AuthorizationApproval, error) {
	return r.unanswered(ctx, "approver_id = ?", approverID)
}

func (r approvalRepo) unanswered(ctx context.Context, cond string, arg any) ([]activities.AuthorizationApproval, error) {
	var rows []approvalModel
	err := r.db.WithContext(ctx).
		Where(cond, arg).
		Where("responded_on IS NULL").
		Order("requested_on, id").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]activities.AuthorizationApproval, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

type roleRepo struct{ db *gorm.DB }

func (r roleRepo) Grant(ctx context.Context, role *activities.MemberRole) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := memberRoleModel{
		ID:         role.ID,
		MemberID:   role.MemberID,
		RoleID:     role.RoleID,
		StartOn:    role.StartOn.UTC(),
		ExpiresOn:  role.ExpiresOn.UTC(),
		ApproverID: optional(role.ApproverID),
		EntityType: role.EntityType,
		EntityID:   role.EntityID,
	}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r roleRepo) End(ctx context.Context, id string, at time.Time) error {
	var row memberRoleModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return mapErr(err)
	}
	if !at.Before(row.ExpiresOn) {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&memberRoleModel{}).
		Where("id = ?", id).
		Update("expires_on", at.UTC()).Error
	return mapErr(err)
}
