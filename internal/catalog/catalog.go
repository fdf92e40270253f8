// Package catalog keeps a DuckDB history of pipeline runs and per-entity
// asset outcomes, queryable after the in-memory run state is gone.
package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/factory-twin/backend/internal/models"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

var schema = []string{`
CREATE TABLE IF NOT EXISTS runs (
	id           VARCHAR PRIMARY KEY,
	project      VARCHAR NOT NULL,
	status       VARCHAR NOT NULL,
	stage        VARCHAR,
	entity_count INTEGER,
	scene_path   VARCHAR,
	published_to VARCHAR,
	warnings     VARCHAR,
	error        VARCHAR,
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS asset_outcomes (
	run_id    VARCHAR NOT NULL,
	entity_id VARCHAR NOT NULL,
	slug      VARCHAR NOT NULL,
	status    VARCHAR NOT NULL,
	attempts  INTEGER NOT NULL,
	mesh_path VARCHAR,
	error     VARCHAR
)`,
}

// Catalog is a DuckDB-backed run history.
type Catalog struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the catalog database at dbPath.
func Open(dbPath string, threads int) (*Catalog, error) {
	if threads <= 0 {
		threads = 1
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create catalog tables: %w", err)
		}
	}
	return &Catalog{db: db, dbPath: dbPath}, nil
}

// Path returns the database file location.
func (c *Catalog) Path() string { return c.dbPath }

// RecordRun upserts the run row and replaces its asset outcomes.
func (c *Catalog) RecordRun(ctx context.Context, run *models.PipelineRun) error {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, project, status, stage, entity_count, scene_path, published_to, warnings, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Project, string(run.Status), run.Stage, run.EntityCount,
		run.ScenePath, run.PublishedTo, string(warnings), run.Error,
		run.StartedAt.UTC(), completed,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_outcomes WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear outcomes for %s: %w", run.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}

	if len(run.Outcomes) == 0 {
		return nil
	}
	return c.appendOutcomes(ctx, run.ID, run.Outcomes)
}

// appendOutcomes bulk-inserts through the native Appender.
func (c *Catalog) appendOutcomes(ctx context.Context, runID string, outcomes []models.AssetOutcome) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "asset_outcomes")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		for i, o := range outcomes {
			err := appender.AppendRow(
				runID,
				o.EntityID,
				o.Slug,
				string(o.Status),
				int32(o.Attempts),
				o.MeshPath,
				o.Error,
			)
			if err != nil {
				appender.Close()
				return fmt.Errorf("failed to append outcome %d: %w", i, err)
			}
		}
		return appender.Close()
	})
}

const runColumns = `id, project, status, stage, entity_count, scene_path, published_to, warnings, error, started_at, completed_at`

func scanRun(row interface{ Scan(...any) error }) (*models.PipelineRun, error) {
	var (
		run       models.PipelineRun
		status    string
		stage     sql.NullString
		count     sql.NullInt32
		scene     sql.NullString
		published sql.NullString
		warnings  sql.NullString
		errText   sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Project, &status, &stage, &count, &scene, &published,
		&warnings, &errText, &run.StartedAt, &completed); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.Stage = stage.String
	run.EntityCount = int(count.Int32)
	run.ScenePath = scene.String
	run.PublishedTo = published.String
	run.Error = errText.String
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &run.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	if run.Status == models.RunStatusComplete {
		run.Progress = 100
	}
	return &run, nil
}

// GetRun loads one run with its outcomes.
func (c *Catalog) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT entity_id, slug, status, attempts, mesh_path, error
		FROM asset_outcomes WHERE run_id = ? ORDER BY entity_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o        models.AssetOutcome
			status   string
			attempts int32
			meshPath sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&o.EntityID, &o.Slug, &status, &attempts, &meshPath, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Status = models.AssetStatus(status)
		o.Attempts = int(attempts)
		o.MeshPath = meshPath.String
		o.Error = errText.String
		run.Outcomes = append(run.Outcomes, o)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs, newest first. An empty project
// matches all projects.
func (c *Catalog) ListRuns(ctx context.Context, project string, limit int) ([]*models.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// OutcomeCounts aggregates asset outcomes by status across all runs since
// the given time.
func (c *Catalog) OutcomeCounts(ctx context.Context, since time.Time) (map[models.AssetStatus]int, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT o.status, COUNT(*)
		FROM asset_outcomes o JOIN runs r ON r.id = o.run_id
		WHERE r.started_at >= ?
		GROUP BY o.status`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AssetStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.AssetStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

// Close closes the database. The file is kept.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
