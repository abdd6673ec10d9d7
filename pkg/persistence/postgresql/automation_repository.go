package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

const automationColumns = `
	id
  , tenant_id
  , name
  , trigger_type
  , condition
  , recurrence
  , steps
  , active
  , runs_started
  , runs_completed
  , created_at
  , updated_at
`

// AutomationRepository handles automation-related database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

func (r *AutomationRepository) List(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY created_at`

	return r.queryAutomations(ctx, query)
}

func (r *AutomationRepository) ListActive(ctx context.Context, triggerType models.TriggerType) ([]*models.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE active AND trigger_type = $1
		ORDER BY created_at
	`

	return r.queryAutomations(ctx, query, string(triggerType))
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	conditionJSON, err := marshalNullable(automation.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	recurrenceJSON, err := marshalNullable(automation.Recurrence)
	if err != nil {
		return fmt.Errorf("failed to marshal recurrence: %w", err)
	}

	stepsJSON, err := json.Marshal(automation.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO automations (
			id, tenant_id, name, trigger_type, condition, recurrence, steps,
			active, runs_started, runs_completed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			condition = EXCLUDED.condition,
			recurrence = EXCLUDED.recurrence,
			steps = EXCLUDED.steps,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.TenantID,
		automation.Name,
		string(automation.TriggerType),
		conditionJSON,
		recurrenceJSON,
		stepsJSON,
		automation.Active,
		automation.RunsStarted,
		automation.RunsCompleted,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation %s: %w", automation.ID, err)
	}

	return nil
}

func (r *AutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

func (r *AutomationRepository) queryAutomations(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation     models.Automation
		triggerType    string
		conditionJSON  sql.NullString
		recurrenceJSON sql.NullString
		stepsJSON      []byte
	)

	err := row.Scan(
		&automation.ID,
		&automation.TenantID,
		&automation.Name,
		&triggerType,
		&conditionJSON,
		&recurrenceJSON,
		&stepsJSON,
		&automation.Active,
		&automation.RunsStarted,
		&automation.RunsCompleted,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	automation.TriggerType = models.TriggerType(triggerType)

	if conditionJSON.Valid {
		var condition models.ConditionGroup

		if err := json.Unmarshal([]byte(conditionJSON.String), &condition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
		}

		automation.Condition = &condition
	}

	if recurrenceJSON.Valid {
		var recurrence models.Recurrence

		if err := json.Unmarshal([]byte(recurrenceJSON.String), &recurrence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recurrence: %w", err)
		}

		automation.Recurrence = &recurrence
	}

	if err := json.Unmarshal(stepsJSON, &automation.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &automation, nil
}

// marshalNullable marshals a pointer to JSON, mapping nil to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch value := v.(type) {
	case *models.ConditionGroup:
		if value == nil {
			return nil, nil
		}
	case *models.Recurrence:
		if value == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return data, nil
}
