package learner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	lastSQL  string
	lastArgs []any
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.lastSQL, m.lastArgs = sql, args
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.lastSQL, m.lastArgs = sql, args
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func boolRow(v bool) pgx.Row {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*bool) = v
		return nil
	}}
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Exists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     pgx.Row
		want    bool
		wantErr bool
	}{
		{name: "found", row: boolRow(true), want: true},
		{name: "not found", row: boolRow(false), want: false},
		{name: "no rows", row: &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}, want: false},
		{name: "db fault", row: &mockRow{scanFunc: func(...any) error { return errors.New("conn reset") }}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row { return tc.row }}
			s := NewPostgresStore(db)

			got, err := s.Exists(context.Background(), "learner-1")
			if (err != nil) != tc.wantErr {
				t.Fatalf("Exists error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Exists = %v, want %v", got, tc.want)
			}
			if len(db.lastArgs) != 1 || db.lastArgs[0] != "learner-1" {
				t.Errorf("args = %v, want [learner-1]", db.lastArgs)
			}
			if !strings.Contains(db.lastSQL, `FROM "users"`) {
				t.Errorf("query %q does not reference default table", db.lastSQL)
			}
		})
	}
}

func TestPostgresStore_ExistsEmptyID(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		t.Error("empty id must not reach the database")
		return boolRow(true)
	}}
	got, err := NewPostgresStore(db).Exists(context.Background(), "")
	if err != nil || got {
		t.Errorf("Exists(\"\") = %v, %v; want false, nil", got, err)
	}
}

func TestPostgresStore_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		table string
		want  string
	}{
		{table: "", want: `"users"`},
		{table: "learners", want: `"learners"`},
		{table: "app.learners", want: `"app"."learners"`},
		{table: "db.app.learners", want: `"db"."app"."learners"`},
		{table: `bad"; DROP TABLE x; --`, want: `"bad""; DROP TABLE x; --"`},
	}
	for _, tc := range tests {
		s := NewPostgresStore(&mockDB{}, WithTable(tc.table))
		if got := s.quotedTable(); got != tc.want {
			t.Errorf("table %q quoted = %s, want %s", tc.table, got, tc.want)
		}
	}
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db, WithTable("learners"))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(db.lastSQL, `CREATE TABLE IF NOT EXISTS "learners"`) {
		t.Errorf("Migrate SQL = %q", db.lastSQL)
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	err := s.Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "learner: migrate") {
		t.Errorf("Migrate error = %v, want wrapped migrate error", err)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	ok := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int) = 1
			return nil
		}}
	}}
	if err := NewPostgresStore(ok).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	down := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(...any) error { return errors.New("dial tcp: refused") }}
	}}
	if err := NewPostgresStore(down).Ping(context.Background()); err == nil {
		t.Error("Ping succeeded on failing database")
	}
}
