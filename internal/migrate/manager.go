package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedMigrations embed.FS

const (
	migrationsDir          = "sql"
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Manager applies the embedded schema migrations and records applied seeds.
type Manager struct {
	db              *sql.DB
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the database handle the manager works on.
func (m *Manager) DB() *sql.DB { return m.db }

// MigrationState describes one embedded migration.
type MigrationState struct {
	Version int64  `json:"version"`
	Source  string `json:"source"`
	Applied bool   `json:"applied"`
}

func (m *Manager) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName(m.migrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	return fn()
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.withGoose(func() error {
		if err := goose.UpContext(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.withGoose(func() error {
		if err := goose.DownContext(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		return nil
	})
}

// Status lists the embedded migrations and whether each is applied.
func (m *Manager) Status(ctx context.Context) ([]MigrationState, error) {
	var out []MigrationState
	err := m.withGoose(func() error {
		current, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return fmt.Errorf("goose version: %w", err)
		}
		out, err = collect(current)
		return err
	})
	return out, err
}

// Migrations lists the embedded migrations without touching a database.
func Migrations() ([]MigrationState, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(embedMigrations)
	return collect(0)
}

func collect(current int64) ([]MigrationState, error) {
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("collect migrations: %w", err)
	}
	out := make([]MigrationState, 0, len(migrations))
	for _, mig := range migrations {
		out = append(out, MigrationState{
			Version: mig.Version,
			Source:  mig.Source,
			Applied: mig.Version <= current,
		})
	}
	return out, nil
}

// Seed runs fn once per name, recording it in the seeds table.
// It reports whether fn ran.
func (m *Manager) Seed(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	if err := m.ensureSeedsTable(ctx); err != nil {
		return false, err
	}
	var exists bool
	if err := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`select exists(select 1 from %s where name = $1)`, m.seedsTable), name).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return false, fmt.Errorf("apply seed %s: %w", name, err)
	}
	if _, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s (name) values ($1)`, m.seedsTable), name); err != nil {
		return false, err
	}
	return true, nil
}

// AppliedSeeds returns seed names in application order.
func (m *Manager) AppliedSeeds(ctx context.Context) ([]string, error) {
	if err := m.ensureSeedsTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (m *Manager) ensureSeedsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.seedsTable))
	return err
}
