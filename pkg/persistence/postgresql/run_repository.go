package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

const runColumns = `
	id
  , tenant_id
  , automation_id
  , entity_id
  , status
  , current_step_index
  , context
  , log
  , due_at
  , created_at
  , updated_at
`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Create inserts the run and bumps the automation's runs_started counter in
// one transaction, so the counter never drifts from the stored runs.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	contextJSON, logJSON, err := marshalRunDocuments(run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO runs (
			id, tenant_id, automation_id, entity_id, status,
			current_step_index, context, log, due_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = tx.ExecContext(ctx, query,
		run.ID,
		run.TenantID,
		run.AutomationID,
		run.EntityID,
		string(run.Status),
		run.CurrentStepIndex,
		contextJSON,
		logJSON,
		run.DueAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE automations SET runs_started = runs_started + 1, updated_at = NOW() WHERE id = $1`,
		run.AutomationID)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	if err := r.update(ctx, r.db, run); err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	return nil
}

// Complete writes the terminal update and bumps the automation's
// runs_completed counter in one transaction, so the counter and the stored
// status change together.
func (r *RunRepository) Complete(ctx context.Context, run *models.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.update(ctx, tx, run); err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE automations SET runs_completed = runs_completed + 1, updated_at = NOW() WHERE id = $1`,
		run.AutomationID)
	if err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *RunRepository) update(ctx context.Context, ex execer, run *models.Run) error {
	run.UpdatedAt = time.Now().UTC()

	contextJSON, logJSON, err := marshalRunDocuments(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs SET
			status = $2,
			current_step_index = $3,
			context = $4,
			log = $5,
			due_at = $6,
			updated_at = $7
		WHERE id = $1
	`

	result, err := ex.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		run.CurrentStepIndex,
		contextJSON,
		logJSON,
		run.DueAt,
		run.UpdatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrRunNotFound
	}

	return nil
}

// Claim is the single atomic conditional write that grants exclusive right to
// advance a run. The UPDATE only succeeds when the stored status still equals
// the expected one, so of N concurrent claimants exactly one sees one row
// affected.
func (r *RunRepository) Claim(ctx context.Context, runID string, expected, next models.RunStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		runID, string(expected), string(next))
	if err != nil {
		return false, persistence.NewRunError("Claim", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewRunError("Claim", runID, err)
	}

	return affected == 1, nil
}

func (r *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'WAITING' AND due_at <= $1
		ORDER BY due_at
	`

	return r.queryRuns(ctx, query, now)
}

func (r *RunRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE automation_id = $1 ORDER BY created_at DESC`

	return r.queryRuns(ctx, query, automationID)
}

func (r *RunRepository) ExistsSince(ctx context.Context, automationID, entityID string, since time.Time) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM runs
			WHERE automation_id = $1 AND entity_id = $2 AND created_at >= $3
		)`,
		automationID, entityID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query run existence: %w", err)
	}

	return exists, nil
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run         models.Run
		status      string
		contextJSON sql.NullString
		logJSON     []byte
		dueAt       sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.AutomationID,
		&run.EntityID,
		&status,
		&run.CurrentStepIndex,
		&contextJSON,
		&logJSON,
		&dueAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)

	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &run.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	if err := json.Unmarshal(logJSON, &run.Log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run log: %w", err)
	}

	if dueAt.Valid {
		t := dueAt.Time

		run.DueAt = &t
	}

	return &run, nil
}

func marshalRunDocuments(run *models.Run) (contextJSON, logJSON []byte, err error) {
	contextJSON, err = json.Marshal(run.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run context: %w", err)
	}

	logJSON, err = json.Marshal(run.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run log: %w", err)
	}

	return contextJSON, logJSON, nil
}
