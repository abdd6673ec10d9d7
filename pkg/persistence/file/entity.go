package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// EntityRepository stores one JSON document per entity under <root>/entities.
// In production this surface is a projection of an external system of record;
// the file backend exists for development seeding and tests.
type EntityRepository struct {
	root string
	mu   sync.Mutex
}

func NewEntityRepository(root string) *EntityRepository {
	return &EntityRepository{root: root}
}

func (er *EntityRepository) dir() string {
	return filepath.Join(er.root, "entities")
}

func (er *EntityRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

func (er *EntityRepository) GetByID(_ context.Context, tenantID, id string) (*models.Entity, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid entity ID: %w", err)
	}

	entity, err := er.read(id)
	if err != nil {
		return nil, err
	}

	if entity.TenantID != tenantID {
		return nil, persistence.ErrEntityNotFound
	}

	return entity, nil
}

func (er *EntityRepository) Save(_ context.Context, entity *models.Entity) error {
	if err := validateID(entity.ID); err != nil {
		return fmt.Errorf("invalid entity ID: %w", err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if err := os.MkdirAll(er.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create entities directory: %w", err)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", entity.ID, err)
	}

	if err := os.WriteFile(er.path(entity.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write entity %s: %w", entity.ID, err)
	}

	return nil
}

func (er *EntityRepository) FindByRecurrenceDate(ctx context.Context, tenantID, dateField string, month time.Month, day int) ([]*models.Entity, error) {
	entities, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Entity, 0)

	for _, entity := range entities {
		if entity.TenantID != tenantID {
			continue
		}

		if models.DateFieldMatches(entity.Fields[dateField], month, day) {
			matches = append(matches, entity)
		}
	}

	return matches, nil
}

func (er *EntityRepository) read(id string) (*models.Entity, error) {
	data, err := os.ReadFile(er.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrEntityNotFound
		}

		return nil, fmt.Errorf("failed to read entity %s: %w", id, err)
	}

	var entity models.Entity

	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity %s: %w", id, err)
	}

	return &entity, nil
}

func (er *EntityRepository) loadAll(_ context.Context) ([]*models.Entity, error) {
	root := os.DirFS(er.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list entity files: %w", err)
	}

	entities := make([]*models.Entity, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		entity, err := er.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to load entity from %s: %w", name, err)
		}

		entities = append(entities, entity)
	}

	return entities, nil
}
