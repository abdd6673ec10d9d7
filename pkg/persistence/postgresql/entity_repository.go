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

// EntityRepository serves the entity read model: recipient lookup and the
// recurrence date scan.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEntityRepository(db *sql.DB, logger *slog.Logger) *EntityRepository {
	return &EntityRepository{db: db, logger: logger}
}

func (r *EntityRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Entity, error) {
	query := `SELECT id, tenant_id, email, name, fields FROM entities WHERE tenant_id = $1 AND id = $2`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEntityNotFound
		}

		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	return entity, nil
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	fieldsJSON, err := json.Marshal(entity.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal entity fields: %w", err)
	}

	query := `
		INSERT INTO entities (id, tenant_id, email, name, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			fields = EXCLUDED.fields
	`

	_, err = r.db.ExecContext(ctx, query, entity.ID, entity.TenantID, entity.Email, entity.Name, fieldsJSON)
	if err != nil {
		return fmt.Errorf("failed to save entity %s: %w", entity.ID, err)
	}

	return nil
}

// FindByRecurrenceDate matches the month and day of a date-typed entity field
// in SQL; rows whose field is absent or not a parseable date are filtered by
// the regexp guard instead of erroring the whole scan.
func (r *EntityRepository) FindByRecurrenceDate(ctx context.Context, tenantID, dateField string, month time.Month, day int) ([]*models.Entity, error) {
	query := `
		SELECT id, tenant_id, email, name, fields
		FROM entities
		WHERE tenant_id = $1
		  AND fields->>$2 ~ '^\d{4}-\d{2}-\d{2}'
		  AND to_char((substring(fields->>$2 from '^\d{4}-\d{2}-\d{2}'))::date, 'MM-DD') = $3
	`

	monthDay := fmt.Sprintf("%02d-%02d", int(month), day)

	rows, err := r.db.QueryContext(ctx, query, tenantID, dateField, monthDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by recurrence date: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entities := make([]*models.Entity, 0)

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		entity     models.Entity
		fieldsJSON []byte
	)

	err := row.Scan(&entity.ID, &entity.TenantID, &entity.Email, &entity.Name, &fieldsJSON)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fieldsJSON, &entity.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity fields: %w", err)
	}

	return &entity, nil
}
