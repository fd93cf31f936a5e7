package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/azmove/azmove/pkg/simulator"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps the run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
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
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Pragmas go in the DSN so every pooled connection gets them; foreign
	// keys in particular are a connection-level setting.
	dsn := fmt.Sprintf("%s?_txlock=immediate"+
		"&_pragma=foreign_keys(1)"+
		"&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

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

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveReport persists a run summary and all of its result rows in one
// transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *simulator.Report) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
		INSERT INTO simulation_runs (
			id, subscription_id, source_group, target_group, classification,
			assignment_count, policy_count, resource_count, violation_count,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, runQuery,
		report.RunID,
		report.SubscriptionID,
		report.SourceGroup,
		report.TargetGroup,
		string(report.Classification),
		report.AssignmentCount,
		report.PolicyCount,
		report.ResourceCount,
		report.ViolationCount,
		report.StartedAt,
		report.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	findingQuery := `
		INSERT INTO run_findings (
			run_id, resource_id, resource_name, resource_type, resource_location,
			assignment_id, assignment_name, policy_id, policy_name, reference_id,
			raw_effect, resolved_effect, effect_trail, compliance_state,
			violates, waiver_status, exemption_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range report.Results {
		if _, err := tx.ExecContext(ctx, findingQuery,
			report.RunID,
			r.ResourceID,
			r.ResourceName,
			r.ResourceType,
			r.ResourceLocation,
			r.AssignmentID,
			r.AssignmentName,
			r.PolicyID,
			r.PolicyName,
			r.ReferenceID,
			r.RawEffect,
			string(r.ResolvedEffect),
			strings.Join(r.EffectTrail, "; "),
			r.ComplianceState,
			r.Violates,
			r.WaiverStatus,
			r.ExemptionName,
		); err != nil {
			return fmt.Errorf("failed to insert finding for %s: %w", r.ResourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	return nil
}

// GetRun retrieves a run summary by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, subscription_id, source_group, target_group, classification,
			   assignment_count, policy_count, resource_count, violation_count,
			   started_at, completed_at, created_at
		FROM simulation_runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.SubscriptionID,
		&run.SourceGroup,
		&run.TargetGroup,
		&run.Classification,
		&run.AssignmentCount,
		&run.PolicyCount,
		&run.ResourceCount,
		&run.ViolationCount,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists run summaries, newest first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, subscription_id, source_group, target_group, classification,
			   assignment_count, policy_count, resource_count, violation_count,
			   started_at, completed_at, created_at
		FROM simulation_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.SubscriptionID,
			&run.SourceGroup,
			&run.TargetGroup,
			&run.Classification,
			&run.AssignmentCount,
			&run.PolicyCount,
			&run.ResourceCount,
			&run.ViolationCount,
			&run.StartedAt,
			&run.CompletedAt,
			&run.CreatedAt,
		)
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

// ListFindings lists all findings for a run, violations first.
func (s *SQLiteStore) ListFindings(ctx context.Context, runID string) ([]*FindingRecord, error) {
	query := `
		SELECT id, run_id, resource_id, resource_name, resource_type, resource_location,
			   assignment_id, assignment_name, policy_id, policy_name, reference_id,
			   raw_effect, resolved_effect, effect_trail, compliance_state,
			   violates, waiver_status, exemption_name
		FROM run_findings
		WHERE run_id = ?
		ORDER BY violates DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []*FindingRecord{}
	for rows.Next() {
		f := &FindingRecord{}
		err := rows.Scan(
			&f.ID,
			&f.RunID,
			&f.ResourceID,
			&f.ResourceName,
			&f.ResourceType,
			&f.ResourceLocation,
			&f.AssignmentID,
			&f.AssignmentName,
			&f.PolicyID,
			&f.PolicyName,
			&f.ReferenceID,
			&f.RawEffect,
			&f.ResolvedEffect,
			&f.EffectTrail,
			&f.ComplianceState,
			&f.Violates,
			&f.WaiverStatus,
			&f.ExemptionName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}

// DeleteRun deletes a run and, via the foreign key cascade, its findings.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM simulation_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
