package pg

import (
	"context"
	"database/sql"

	"kmp.org/internal/activities"
)

// SaveActivity inserts or replaces an activity definition.
func (s *Store) SaveActivity(ctx context.Context, a activities.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		insert into activities (id, name, num_required_authorizors, num_required_renewers, term_length,
		                        minimum_age, maximum_age, grants_role_id, permission_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (id) do update set
			name = excluded.name,
			num_required_authorizors = excluded.num_required_authorizors,
			num_required_renewers = excluded.num_required_renewers,
			term_length = excluded.term_length,
			minimum_age = excluded.minimum_age,
			maximum_age = excluded.maximum_age,
			grants_role_id = excluded.grants_role_id,
			permission_id = excluded.permission_id
	`, a.ID, a.Name, a.NumRequiredAuthorizors, a.NumRequiredRenewers, a.TermYears,
		nullInt(a.MinimumAge), nullInt(a.MaximumAge), nullString(a.GrantsRoleID), nullString(a.PermissionID))
	return mapErr(err)
}

// SaveMember inserts or replaces a member record.
func (s *Store) SaveMember(ctx context.Context, m activities.Member) error {
	_, err := s.db.ExecContext(ctx, `
		insert into members (id, display_name, email) values ($1, $2, $3)
		on conflict (id) do update set display_name = excluded.display_name, email = excluded.email
	`, m.ID, m.DisplayName, m.Email)
	return mapErr(err)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
