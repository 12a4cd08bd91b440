// Package sqlite implements the workflow store on an embedded SQLite
// database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"kmp.org/internal/activities"
	"kmp.org/internal/ids"
)

// Store implements activities.Store. SQLite has no row locks, so workflow
// transactions are serialized in process and run on a single connection.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	mu     sync.Mutex
}

var _ activities.Store = (*Store)(nil)

// Open creates a store at path, or an isolated in-memory database when path
// is empty. The schema is created if it is missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var dsn string
	if path == "" {
		dsn = fmt.Sprintf("file:kmp-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", ids.New())
	} else {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	for _, model := range migrateModels {
		s.logger.Debug("creating table", "component", "store", "model", fmt.Sprintf("%T", model))
		if err := db.AutoMigrate(model); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return s, nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithinTx implements activities.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx activities.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, gormTx{db: tx})
	})
}

// SaveActivity inserts or replaces an activity definition.
func (s *Store) SaveActivity(ctx context.Context, a activities.Activity) error {
	row := activityModelFromEntity(a)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return s.logError("store_save_activity_failed", err, "activity_id", a.ID)
	}
	return nil
}

// SaveMember inserts or replaces a member record.
func (s *Store) SaveMember(ctx context.Context, m activities.Member) error {
	row := memberModel{ID: m.ID, DisplayName: m.DisplayName, Email: m.Email}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email"}),
	}).Create(&row).Error
	if err != nil {
		return s.logError("store_save_member_failed", err, "member_id", m.ID)
	}
	return nil
}

// Role loads a role grant.
func (s *Store) Role(ctx context.Context, id string) (activities.MemberRole, error) {
	var row memberRoleModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return activities.MemberRole{}, mapErr(err)
	}
	return row.toEntity(), nil
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"component", "store",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("sqlite store operation failed", fields...)
	return mapErr(err)
}

// mapErr translates gorm failures into workflow sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return activities.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", activities.ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", activities.ErrNotFound, err)
	}
	return err
}
