package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// AutomationRepository stores one JSON document per automation under
// <root>/automations.
type AutomationRepository struct {
	root string
	mu   sync.Mutex
}

func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{root: root}
}

func (ar *AutomationRepository) dir() string {
	return filepath.Join(ar.root, "automations")
}

func (ar *AutomationRepository) path(id string) string {
	return filepath.Join(ar.dir(), id+".json")
}

// validateID guards against path traversal through record identifiers.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

func (ar *AutomationRepository) List(ctx context.Context) ([]*models.Automation, error) {
	automations, err := ar.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(automations, func(i, j int) bool {
		return automations[i].CreatedAt.Before(automations[j].CreatedAt)
	})

	return automations, nil
}

func (ar *AutomationRepository) ListActive(ctx context.Context, triggerType models.TriggerType) ([]*models.Automation, error) {
	automations, err := ar.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Automation, 0)

	for _, automation := range automations {
		if automation.Active && automation.TriggerType == triggerType {
			matches = append(matches, automation)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

func (ar *AutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid automation ID: %w", err)
	}

	data, err := os.ReadFile(ar.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to read automation %s: %w", id, err)
	}

	var automation models.Automation

	if err := json.Unmarshal(data, &automation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation %s: %w", id, err)
	}

	return &automation, nil
}

func (ar *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
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

	ar.mu.Lock()
	defer ar.mu.Unlock()

	return ar.write(automation)
}

func (ar *AutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	automation, err := ar.GetByID(ctx, id)
	if err != nil {
		return err
	}

	automation.Active = active
	automation.UpdatedAt = time.Now().UTC()

	return ar.write(automation)
}

// increment applies a counter bump under the repository mutex; the run
// repository calls it as runs are created and completed.
func (ar *AutomationRepository) increment(ctx context.Context, id string, apply func(*models.Automation)) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	automation, err := ar.GetByID(ctx, id)
	if err != nil {
		return err
	}

	apply(automation)
	automation.UpdatedAt = time.Now().UTC()

	return ar.write(automation)
}

func (ar *AutomationRepository) write(automation *models.Automation) error {
	if err := os.MkdirAll(ar.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create automations directory: %w", err)
	}

	data, err := json.Marshal(automation)
	if err != nil {
		return fmt.Errorf("failed to marshal automation %s: %w", automation.ID, err)
	}

	if err := os.WriteFile(ar.path(automation.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write automation %s: %w", automation.ID, err)
	}

	return nil
}

func (ar *AutomationRepository) loadAll(ctx context.Context) ([]*models.Automation, error) {
	root := os.DirFS(ar.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list automation files: %w", err)
	}

	automations := make([]*models.Automation, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		automation, err := ar.GetByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to load automation from %s: %w", name, err)
		}

		automations = append(automations, automation)
	}

	return automations, nil
}
