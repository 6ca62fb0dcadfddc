package learner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTable is the table consulted when no name is configured.
const DefaultTable = "users"

// schemaTemplate is the DDL applied by [PostgresStore.Migrate]. Deployments
// that share an existing users table never need to run it.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table keyed by learner id.
type PostgresStore struct {
	db    DB
	table string
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresOption configures a [PostgresStore].
type PostgresOption func(*PostgresStore)

// WithTable sets the table holding learner rows. Default: [DefaultTable].
// The name may be schema-qualified ("app.users").
func WithTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		if name != "" {
			s.table = name
		}
	}
}

// NewPostgresStore creates a [PostgresStore] on the given connection or pool.
func NewPostgresStore(db DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, table: DefaultTable}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schema returns the DDL for the configured table.
func (s *PostgresStore) Schema() string {
	return fmt.Sprintf(schemaTemplate, s.quotedTable())
}

// Migrate creates the learner table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("learner: migrate: %w", err)
	}
	return nil
}

// Exists implements [Store].
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.quotedTable())

	var found bool
	if err := s.db.QueryRow(ctx, query, id).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("learner: exists %q: %w", id, err)
	}
	return found, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("learner: ping: %w", err)
	}
	return nil
}

// quotedTable returns the configured table as a sanitized identifier.
func (s *PostgresStore) quotedTable() string {
	return pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
}
