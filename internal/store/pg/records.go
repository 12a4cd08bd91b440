package pg

import (
	"context"
	"database/sql"
	"time"

	"kmp.org/internal/activities"
	"kmp.org/internal/ids"
)

// Activity store ---------------------------------------------------------
type activityStore struct{ tx *sql.Tx }

func (s activityStore) Find(ctx context.Context, id string) (activities.Activity, error) {
	var (
		a        activities.Activity
		minAge   sql.NullInt64
		maxAge   sql.NullInt64
		roleID   sql.NullString
		permitID sql.NullString
	)
	err := s.tx.QueryRowContext(ctx, `
		select id, name, num_required_authorizors, num_required_renewers, term_length,
		       minimum_age, maximum_age, grants_role_id, permission_id
		from activities where id = $1
	`, id).Scan(&a.ID, &a.Name, &a.NumRequiredAuthorizors, &a.NumRequiredRenewers, &a.TermYears,
		&minAge, &maxAge, &roleID, &permitID)
	if err != nil {
		return activities.Activity{}, mapErr(err)
	}
	if minAge.Valid {
		v := int(minAge.Int64)
		a.MinimumAge = &v
	}
	if maxAge.Valid {
		v := int(maxAge.Int64)
		a.MaximumAge = &v
	}
	a.GrantsRoleID = roleID.String
	a.PermissionID = permitID.String
	return a, nil
}

// Member store -----------------------------------------------------------
type memberStore struct{ tx *sql.Tx }

func (s memberStore) Find(ctx context.Context, id string) (activities.Member, error) {
	var m activities.Member
	err := s.tx.QueryRowContext(ctx,
		`select id, display_name, email from members where id = $1`, id,
	).Scan(&m.ID, &m.DisplayName, &m.Email)
	if err != nil {
		return activities.Member{}, mapErr(err)
	}
	return m, nil
}

// Authorization store ----------------------------------------------------
type authorizationStore struct{ tx *sql.Tx }

const authorizationColumns = `id, member_id, activity_id, status, approval_count, requested_on,
	start_on, expires_on, is_renewal, granted_member_role_id, revoker_id, revoked_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorization(row rowScanner) (activities.Authorization, error) {
	var (
		a        activities.Authorization
		status   string
		start    sql.NullTime
		expires  sql.NullTime
		roleID   sql.NullString
		revoker  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.MemberID, &a.ActivityID, &status, &a.ApprovalCount, &a.RequestedOn,
		&start, &expires, &a.IsRenewal, &roleID, &revoker, &a.RevokedReason); err != nil {
		return activities.Authorization{}, err
	}
	a.Status = activities.Status(status)
	a.RequestedOn = a.RequestedOn.UTC()
	a.StartOn = timePtr(start)
	a.ExpiresOn = timePtr(expires)
	a.GrantedMemberRole = roleID.String
	a.RevokerID = revoker.String
	return a, nil
}

func (s authorizationStore) Create(ctx context.Context, a *activities.Authorization) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.tx.ExecContext(ctx, `
		insert into authorizations (`+authorizationColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.ID, a.MemberID, a.ActivityID, string(a.Status), a.ApprovalCount, a.RequestedOn.UTC(),
		nullTime(a.StartOn), nullTime(a.ExpiresOn), a.IsRenewal, nullString(a.GrantedMemberRole),
		nullString(a.RevokerID), a.RevokedReason)
	return mapErr(err)
}

func (s authorizationStore) Find(ctx context.Context, id string) (activities.Authorization, error) {
	row := s.tx.QueryRowContext(ctx,
		`select `+authorizationColumns+` from authorizations where id = $1 for update`, id)
	a, err := scanAuthorization(row)
	if err != nil {
		return activities.Authorization{}, mapErr(err)
	}
	return a, nil
}

func (s authorizationStore) Get(ctx context.Context, id string) (activities.Authorization, error) {
	row := s.tx.QueryRowContext(ctx,
		`select `+authorizationColumns+` from authorizations where id = $1`, id)
	a, err := scanAuthorization(row)
	if err != nil {
		return activities.Authorization{}, mapErr(err)
	}
	return a, nil
}

func (s authorizationStore) Update(ctx context.Context, a activities.Authorization) error {
	res, err := s.tx.ExecContext(ctx, `
		update authorizations
		set status = $2, approval_count = $3, start_on = $4, expires_on = $5,
		    granted_member_role_id = $6, revoker_id = $7, revoked_reason = $8, updated_at = now()
		where id = $1
	`, a.ID, string(a.Status), a.ApprovalCount, nullTime(a.StartOn), nullTime(a.ExpiresOn),
		nullString(a.GrantedMemberRole), nullString(a.RevokerID), a.RevokedReason)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

// LockPair takes a transaction-scoped advisory lock keyed on the pair so
// two final approvals for the same member and activity cannot interleave.
func (s authorizationStore) LockPair(ctx context.Context, memberID, activityID string) error {
	_, err := s.tx.ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, memberID, activityID)
	return mapErr(err)
}

func (s authorizationStore) CountCurrent(ctx context.Context, memberID, activityID string, now time.Time) (int, error) {
	var n int
	err := s.tx.QueryRowContext(ctx, `
		select count(*) from authorizations
		where member_id = $1 and activity_id = $2 and status = 'approved' and expires_on > $3
	`, memberID, activityID, now.UTC()).Scan(&n)
	return n, mapErr(err)
}

func (s authorizationStore) CountOpen(ctx context.Context, memberID, activityID string) (int, error) {
	var n int
	err := s.tx.QueryRowContext(ctx, `
		select count(*) from authorizations
		where member_id = $1 and activity_id = $2 and status in ('new', 'pending')
	`, memberID, activityID).Scan(&n)
	return n, mapErr(err)
}

func (s authorizationStore) ListCurrent(ctx context.Context, memberID, activityID string, now time.Time) ([]activities.Authorization, error) {
	return s.list(ctx, `
		select `+authorizationColumns+` from authorizations
		where member_id = $1 and activity_id = $2 and status = 'approved' and expires_on > $3
		order by requested_on, id
		for update
	`, memberID, activityID, now.UTC())
}

func (s authorizationStore) ListByMember(ctx context.Context, memberID string) ([]activities.Authorization, error) {
	return s.list(ctx, `
		select `+authorizationColumns+` from authorizations
		where member_id = $1
		order by requested_on, id
	`, memberID)
}

func (s authorizationStore) list(ctx context.Context, query string, args ...any) ([]activities.Authorization, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []activities.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

func (s authorizationStore) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	res, err := s.tx.ExecContext(ctx, `
		update authorizations set status = 'expired', updated_at = now()
		where status = 'approved' and expires_on <= $1
	`, now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Approval store ---------------------------------------------------------
type approvalStore struct{ tx *sql.Tx }

const approvalColumns = `id, authorization_id, approver_id, authorization_token, requested_on,
	responded_on, approved, approver_notes`

func scanApproval(row rowScanner) (activities.AuthorizationApproval, error) {
	var (
		a         activities.AuthorizationApproval
		approver  sql.NullString
		responded sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.AuthorizationID, &approver, &a.AuthorizationToken, &a.RequestedOn,
		&responded, &a.Approved, &a.ApproverNotes); err != nil {
		return activities.AuthorizationApproval{}, err
	}
	a.ApproverID = approver.String
	a.RequestedOn = a.RequestedOn.UTC()
	a.RespondedOn = timePtr(responded)
	return a, nil
}

func (s approvalStore) Create(ctx context.Context, a *activities.AuthorizationApproval) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.tx.ExecContext(ctx, `
		insert into authorization_approvals (`+approvalColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.AuthorizationID, nullString(a.ApproverID), a.AuthorizationToken, a.RequestedOn.UTC(),
		nullTime(a.RespondedOn), a.Approved, a.ApproverNotes)
	return mapErr(err)
}

func (s approvalStore) Find(ctx context.Context, id string) (activities.AuthorizationApproval, error) {
	row := s.tx.QueryRowContext(ctx,
		`select `+approvalColumns+` from authorization_approvals where id = $1 for update`, id)
	a, err := scanApproval(row)
	if err != nil {
		return activities.AuthorizationApproval{}, mapErr(err)
	}
	return a, nil
}

func (s approvalStore) Update(ctx context.Context, a activities.AuthorizationApproval) error {
	res, err := s.tx.ExecContext(ctx, `
		update authorization_approvals
		set approver_id = $2, responded_on = $3, approved = $4, approver_notes = $5
		where id = $1
	`, a.ID, nullString(a.ApproverID), nullTime(a.RespondedOn), a.Approved, a.ApproverNotes)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (s approvalStore) CountAccepted(ctx context.Context, authorizationID string) (int, error) {
	var n int
	err := s.tx.QueryRowContext(ctx,
		`select count(*) from authorization_approvals where authorization_id = $1 and approved`,
		authorizationID).Scan(&n)
	return n, mapErr(err)
}

func (s approvalStore) HasAccepted(ctx context.Context, authorizationID, approverID string) (bool, error) {
	var ok bool
	err := s.tx.QueryRowContext(ctx, `
		select exists(
			select 1 from authorization_approvals
			where authorization_id = $1 and approver_id = $2 and approved
		)
	`, authorizationID, approverID).Scan(&ok)
	return ok, mapErr(err)
}

func (s approvalStore) ListOpen(ctx context.Context, authorizationID string) ([]activities.AuthorizationApproval, error) {
	return s.list(ctx, `
		select `+approvalColumns+` from authorization_approvals
		where authorization_id = $1 and responded_on is null
		order by requested_on, id
		for update
	`, authorizationID)
}

func (s approvalStore) FindByToken(ctx context.Context, token string) (activities.AuthorizationApproval, error) {
	row := s.tx.QueryRowContext(ctx,
		`select `+approvalColumns+` from authorization_approvals where authorization_token = $1`, token)
	a, err := scanApproval(row)
	if err != nil {
		return activities.AuthorizationApproval{}, mapErr(err)
	}
	return a, nil
}

func (s approvalStore) ListPendingFor(ctx context.Context, approverID string) ([]activities.AuthorizationApproval, error) {
	return s.list(ctx, `
		select `+approvalColumns+` from authorization_approvals
		where approver_id = $1 and responded_on is null
		order by requested_on, id
	`, approverID)
}

func (s approvalStore) list(ctx context.Context, query string, args ...any) ([]activities.AuthorizationApproval, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []activities.AuthorizationApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

// Role store -------------------------------------------------------------
type roleStore struct{ tx *sql.Tx }

func (s roleStore) Grant(ctx context.Context, r *activities.MemberRole) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.tx.ExecContext(ctx, `
		insert into member_roles (id, member_id, role_id, start_on, expires_on, approver_id, entity_type, entity_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.MemberID, r.RoleID, r.StartOn.UTC(), r.ExpiresOn.UTC(), nullString(r.ApproverID), r.EntityType, r.EntityID)
	return mapErr(err)
}

func (s roleStore) End(ctx context.Context, id string, at time.Time) error {
	res, err := s.tx.ExecContext(ctx,
		`update member_roles set expires_on = least(expires_on, $2) where id = $1`, id, at.UTC())
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return activities.ErrNotFound
	}
	return nil
}
