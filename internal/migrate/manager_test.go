package migrate

import (
	"context"
	"io/fs"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := collectSQL(Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing down migration for %s", up)
		}
	}
}

func TestUpAppliesPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (note text default 'x;y'); create index b_idx on b (note);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := NewManager(db, migrations).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !reflect.DeepEqual(applied, []string{"0002_b.up.sql"}) {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := NewManager(db, migrations).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_a.up.sql" {
		t.Fatalf("unexpected rollback: %s", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := NewManager(db, fstest.MapFS{}).Down(context.Background()); err == nil {
		t.Fatal("expected error when nothing is applied")
	}
}

func TestSeedRequiresDirectory(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	if _, err := NewManager(db, nil).Seed(context.Background()); err == nil {
		t.Fatal("expected error without seeds")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("insert into t values ('a;b'); select 1;\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "insert into t values ('a;b');" {
		t.Fatalf("unexpected first statement: %q", got[0])
	}
}
