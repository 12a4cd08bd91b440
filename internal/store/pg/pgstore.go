package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kmp.org/internal/activities"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

// Store implements activities.Store on PostgreSQL. Every workflow
// transaction runs at SERIALIZABLE isolation.
type Store struct {
	db *sql.DB
}

var _ activities.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// WithinTx implements activities.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx activities.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

type pgTx struct{ tx *sql.Tx }

func (t pgTx) Activities() activities.ActivityStore         { return activityStore{t.tx} }
func (t pgTx) Members() activities.MemberStore               { return memberStore{t.tx} }
func (t pgTx) Authorizations() activities.AuthorizationStore { return authorizationStore{t.tx} }
func (t pgTx) Approvals() activities.ApprovalStore           { return approvalStore{t.tx} }
func (t pgTx) Roles() activities.RoleStore                   { return roleStore{t.tx} }

// mapErr translates driver failures into workflow sentinels. Unknown errors
// are returned as-is and classified as persistence failures upstream.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return activities.ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrSerialization, pgErrDeadlock:
		return fmt.Errorf("%w: %s", activities.ErrConflict, pgErr.Message)
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", activities.ErrConflict, pgErr.ConstraintName)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", activities.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
