package pg

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"kmp.org/internal/activities"
	"kmp.org/internal/notify"
)

var authCols = []string{"id", "member_id", "activity_id", "status", "approval_count", "requested_on",
	"start_on", "expires_on", "is_renewal", "granted_member_role_id", "revoker_id", "revoked_reason"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestWithinTxCommits(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("update member_roles set expires_on").
		WithArgs("role-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx activities.Tx) error {
		return tx.Roles().End(ctx, "role-1", time.Now())
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(context.Context, activities.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error unchanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxMapsSerializationFailure(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgErrSerialization, Message: "could not serialize access"})

	err := store.WithinTx(context.Background(), func(context.Context, activities.Tx) error { return nil })
	if !errors.Is(err, activities.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{sql.ErrNoRows, activities.ErrNotFound},
		{&pgconn.PgError{Code: pgErrUniqueViolation}, activities.ErrConflict},
		{&pgconn.PgError{Code: pgErrForeignKeyViolation}, activities.ErrNotFound},
		{&pgconn.PgError{Code: pgErrDeadlock}, activities.ErrConflict},
	}
	for _, tc := range cases {
		if got := mapErr(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("mapErr(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	other := errors.New("connection reset")
	if got := mapErr(other); got != other {
		t.Fatalf("unexpected mapping for unknown error: %v", got)
	}
}

func TestFindAuthorizationNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from authorizations where id = \\$1 for update").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx activities.Tx) error {
		_, err := tx.Authorizations().Find(ctx, "missing")
		return err
	})
	if !errors.Is(err, activities.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("update authorizations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx activities.Tx) error {
		return tx.Authorizations().Update(ctx, activities.Authorization{ID: "gone", Status: activities.StatusPending})
	})
	if !errors.Is(err, activities.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListCurrentScansNullableColumns(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.AddDate(-1, 0, 0)
	expires := now.AddDate(2, 0, 0)

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WithArgs("5", "2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .* from authorizations\\s+where member_id = \\$1 and activity_id = \\$2 and status = 'approved'").
		WithArgs("5", "2", now).
		WillReturnRows(sqlmock.NewRows(authCols).
			AddRow("a-1", "5", "2", "approved", 1, start, start, expires, false, "role-1", nil, ""))
	mock.ExpectCommit()

	var got []activities.Authorization
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx activities.Tx) error {
		if err := tx.Authorizations().LockPair(ctx, "5", "2"); err != nil {
			return err
		}
		var err error
		got, err = tx.Authorizations().ListCurrent(ctx, "5", "2", now)
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 authorization, got %d", len(got))
	}
	a := got[0]
	if a.Status != activities.StatusApproved || a.GrantedMemberRole != "role-1" || a.RevokerID != "" {
		t.Fatalf("unexpected authorization: %+v", a)
	}
	if a.ExpiresOn == nil || !a.ExpiresOn.Equal(expires) {
		t.Fatalf("unexpected expires_on: %v", a.ExpiresOn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceRequestAgainstPostgres(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, name, num_required_authorizors").
		WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "num_required_authorizors", "num_required_renewers",
			"term_length", "minimum_age", "maximum_age", "grants_role_id", "permission_id"}).
			AddRow("2", "Rapier Combat", 1, 1, 4, nil, nil, "role-marshal", nil))
	mock.ExpectQuery("select id, display_name, email from members").
		WithArgs("5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email"}).AddRow("5", "Requester Five", "five@example.org"))
	mock.ExpectQuery("select id, display_name, email from members").
		WithArgs("9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email"}).AddRow("9", "Approver Nine", "nine@example.org"))
	mock.ExpectQuery("select count\\(\\*\\) from authorizations").
		WithArgs("5", "2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("insert into authorizations").
		WithArgs(sqlmock.AnyArg(), "5", "2", "new", 0, now, sqlmock.AnyArg(), sqlmock.AnyArg(), false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into authorization_approvals").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "token-fixed", now,
			sqlmock.AnyArg(), false, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	notes := &notify.Recorder{}
	svc, err := activities.NewService(store, notes,
		activities.WithClock(func() time.Time { return now }),
		activities.WithTokenGenerator(func(int) (string, error) { return "token-fixed", nil }),
		activities.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	auth, err := svc.Request(context.Background(), activities.RequestInput{RequesterID: "5", ActivityID: "2", ApproverID: "9"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if auth.Status != activities.StatusNew || auth.ID == "" {
		t.Fatalf("unexpected authorization: %+v", auth)
	}
	if len(notes.ApprovalRequests) != 1 || notes.ApprovalRequests[0].Token != "token-fixed" {
		t.Fatalf("unexpected notices: %+v", notes.ApprovalRequests)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceNotificationFailureRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, name, num_required_authorizors").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "num_required_authorizors", "num_required_renewers",
			"term_length", "minimum_age", "maximum_age", "grants_role_id", "permission_id"}).
			AddRow("2", "Rapier Combat", 1, 1, 4, nil, nil, nil, nil))
	mock.ExpectQuery("select id, display_name, email from members").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email"}).AddRow("5", "Requester Five", "five@example.org"))
	mock.ExpectQuery("select id, display_name, email from members").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email"}).AddRow("9", "Approver Nine", "nine@example.org"))
	mock.ExpectQuery("select count\\(\\*\\) from authorizations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("insert into authorizations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into authorization_approvals").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	notes := &notify.Recorder{Err: errors.New("smtp down")}
	svc, err := activities.NewService(store, notes,
		activities.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.Request(context.Background(), activities.RequestInput{RequesterID: "5", ActivityID: "2", ApproverID: "9"})
	if !errors.Is(err, activities.ErrNotification) {
		t.Fatalf("expected notification failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
