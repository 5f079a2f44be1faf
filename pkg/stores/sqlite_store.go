package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/lxd-inventory/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	path   string
	config Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path:   cfg.Path,
		config: cfg,
	}, nil
}

// Init opens the database and enables WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun stores a finished run and its hosts in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engine.Run, configPath string) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("run %s is not finished: %s", run.ID, run.Status)
	}

	endpoints, err := json.Marshal(nonNil(run.Endpoints))
	if err != nil {
		return fmt.Errorf("failed to encode endpoints: %w", err)
	}

	hosts := 0
	if run.Inventory != nil {
		hosts = run.Inventory.Hosts()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, started_at, finished_at, endpoints, discovered, included, hosts, errors, config_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(endpoints),
		run.Discovered,
		run.Included,
		hosts,
		run.Errors,
		configPath,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	if run.Inventory != nil {
		if err := insertHosts(ctx, tx, run.ID, run.Inventory); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// insertHosts writes one row per inventory host.
func insertHosts(ctx context.Context, tx *sql.Tx, runID string, inv *engine.Inventory) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_hosts (run_id, hostname, lxd_name, project, endpoint, status, type, ansible_host, group_names, hostvars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare host insert: %w", err)
	}
	defer stmt.Close()

	memberships := groupsByHost(inv)

	for _, hostname := range slices.Sorted(maps.Keys(inv.Hostvars)) {
		host := inv.Hostvars[hostname]

		vars, err := json.Marshal(host)
		if err != nil {
			return fmt.Errorf("failed to encode hostvars of %s: %w", hostname, err)
		}
		groups, err := json.Marshal(nonNil(memberships[hostname]))
		if err != nil {
			return fmt.Errorf("failed to encode groups of %s: %w", hostname, err)
		}

		var ansibleHost *string
		if host.AnsibleHost != "" {
			ansibleHost = &host.AnsibleHost
		}

		if _, err := stmt.ExecContext(ctx,
			runID,
			hostname,
			host.Name,
			host.Project,
			host.Endpoint,
			host.Status,
			host.Type,
			ansibleHost,
			string(groups),
			string(vars),
		); err != nil {
			return fmt.Errorf("failed to record host %s: %w", hostname, err)
		}
	}
	return nil
}

// groupsByHost inverts the group mapping, with group names sorted.
func groupsByHost(inv *engine.Inventory) map[string][]string {
	out := make(map[string][]string, len(inv.Hostvars))
	for _, group := range slices.Sorted(maps.Keys(inv.Groups)) {
		for _, hostname := range inv.Groups[group] {
			out[hostname] = append(out[hostname], group)
		}
	}
	return out
}

const runColumns = `id, status, started_at, finished_at, endpoints, discovered, included, hosts, errors, config_path, created_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT 1`)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its hosts by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneRuns keeps the newest keep runs and deletes the rest.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return result.RowsAffected()
}

// ListRunHosts returns the hosts of a run ordered by hostname.
func (s *SQLiteStore) ListRunHosts(ctx context.Context, runID string) ([]*HostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, hostname, lxd_name, project, endpoint, status, type, ansible_host, group_names, hostvars
		FROM run_hosts
		WHERE run_id = ?
		ORDER BY hostname
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	hosts := []*HostRecord{}
	for rows.Next() {
		h := &HostRecord{}
		var groups string
		if err := rows.Scan(
			&h.RunID,
			&h.Hostname,
			&h.Name,
			&h.Project,
			&h.Endpoint,
			&h.Status,
			&h.Type,
			&h.AnsibleHost,
			&groups,
			&h.Hostvars,
		); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		if err := json.Unmarshal([]byte(groups), &h.Groups); err != nil {
			return nil, fmt.Errorf("failed to decode groups of %s: %w", h.Hostname, err)
		}
		hosts = append(hosts, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}

	return hosts, nil
}

// DiffRuns compares the hostnames of two runs.
func (s *SQLiteStore) DiffRuns(ctx context.Context, from, to string) (*HostDiff, error) {
	before, err := s.hostnames(ctx, from)
	if err != nil {
		return nil, err
	}
	after, err := s.hostnames(ctx, to)
	if err != nil {
		return nil, err
	}

	diff := &HostDiff{From: from, To: to, Added: []string{}, Removed: []string{}}
	for _, h := range after {
		if _, found := slices.BinarySearch(before, h); !found {
			diff.Added = append(diff.Added, h)
		}
	}
	for _, h := range before {
		if _, found := slices.BinarySearch(after, h); !found {
			diff.Removed = append(diff.Removed, h)
		}
	}
	return diff, nil
}

// hostnames returns the sorted hostnames of a run, failing for unknown runs.
func (s *SQLiteStore) hostnames(ctx context.Context, runID string) ([]string, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT hostname FROM run_hosts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hostnames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan hostname: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hostnames: %w", err)
	}

	slices.Sort(names)
	return names, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	run := &RunRecord{}
	var endpoints string
	if err := row.Scan(
		&run.ID,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&endpoints,
		&run.Discovered,
		&run.Included,
		&run.Hosts,
		&run.Errors,
		&run.ConfigPath,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(endpoints), &run.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to decode endpoints of run %s: %w", run.ID, err)
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
