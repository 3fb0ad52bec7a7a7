package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/smilemakc/dagrun/pkg/models"
)

// RunModel is the bun row for a persisted run result. Step results are
// stored as a JSONB document.
type RunModel struct {
	bun.BaseModel `bun:"table:workflow_runs,alias:r"`

	RunID      string          `bun:"run_id,pk"`
	WorkflowID string          `bun:"workflow_id"`
	Status     string          `bun:"status"`
	DurationMs int64           `bun:"duration_ms"`
	Steps      json.RawMessage `bun:"steps,type:jsonb"`
	Error      string          `bun:"error,nullzero"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DBConfig configures the Postgres connection.
type DBConfig struct {
	DSN             string
	MaxConnections  int
	MaxConnLifetime time.Duration
	Debug           bool
}

// NewDB opens a bun database over the Postgres driver.
func NewDB(cfg DBConfig) *bun.DB {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(30*time.Second),
		pgdriver.WithDialTimeout(10*time.Second),
	)
	sqldb := sql.OpenDB(connector)
	if cfg.MaxConnections > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// BunStore is a RunStore backed by Postgres through bun.
type BunStore struct {
	db bun.IDB
}

// NewBunStore creates a store over an open database.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

var _ RunStore = (*BunStore)(nil)

// Migrate creates the runs table when missing.
func (s *BunStore) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*RunModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating workflow_runs table: %w", err)
	}
	return nil
}

// SaveRun upserts a run result.
func (s *BunStore) SaveRun(ctx context.Context, result *models.RunResult) error {
	row, err := toRow(result)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (run_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("duration_ms = EXCLUDED.duration_ms").
		Set("steps = EXCLUDED.steps").
		Set("error = EXCLUDED.error").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", result.RunID, err)
	}
	return nil
}

// GetRun loads a run result by id.
func (s *BunStore) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	row := new(RunModel)
	err := s.db.NewSelect().
		Model(row).
		Where("run_id = ?", runID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return fromRow(row)
}

// ListRuns returns the most recent runs, optionally filtered by
// workflow id.
func (s *BunStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*models.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*RunModel
	q := s.db.NewSelect().
		Model(&rows).
		Order("created_at DESC").
		Limit(limit)
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	out := make([]*models.RunResult, 0, len(rows))
	for _, row := range rows {
		result, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func toRow(result *models.RunResult) (*RunModel, error) {
	steps, err := json.Marshal(result.Steps)
	if err != nil {
		return nil, fmt.Errorf("encoding steps for run %s: %w", result.RunID, err)
	}
	return &RunModel{
		RunID:      result.RunID,
		WorkflowID: result.WorkflowID,
		Status:     string(result.Status),
		DurationMs: result.DurationMs,
		Steps:      steps,
		Error:      result.Error,
	}, nil
}

func fromRow(row *RunModel) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:      row.RunID,
		WorkflowID: row.WorkflowID,
		Status:     models.RunStatus(row.Status),
		DurationMs: row.DurationMs,
		Error:      row.Error,
	}
	if len(row.Steps) > 0 {
		if err := json.Unmarshal(row.Steps, &result.Steps); err != nil {
			return nil, fmt.Errorf("decoding steps for run %s: %w", row.RunID, err)
		}
	}
	return result, nil
}
