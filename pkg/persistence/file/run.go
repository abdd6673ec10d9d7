package file

import (
	"context"
	"encoding/json"
	"errors"
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

// RunRepository stores one JSON document per run under <root>/runs. The
// mutex serializes claim attempts within the process; cross-process claim
// safety needs the SQL backend. The automation repository reference keeps the
// run counters in step with run creation and completion.
type RunRepository struct {
	root        string
	automations *AutomationRepository
	mu          sync.Mutex
}

func NewRunRepository(root string, automations *AutomationRepository) *RunRepository {
	return &RunRepository{root: root, automations: automations}
}

func (rr *RunRepository) dir() string {
	return filepath.Join(rr.root, "runs")
}

func (rr *RunRepository) path(id string) string {
	return filepath.Join(rr.dir(), id+".json")
}

func (rr *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	if err := rr.write(run); err != nil {
		return err
	}

	return rr.countRun(ctx, run, func(a *models.Automation) { a.RunsStarted++ })
}

// Complete persists the terminal update and bumps the automation's
// runs_completed counter under the run mutex.
func (rr *RunRepository) Complete(ctx context.Context, run *models.Run) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := rr.read(run.ID); err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	run.UpdatedAt = time.Now().UTC()

	if err := rr.write(run); err != nil {
		return persistence.NewRunError("Complete", run.ID, err)
	}

	return rr.countRun(ctx, run, func(a *models.Automation) { a.RunsCompleted++ })
}

// countRun keeps the automation's run counters in step with the run store. A
// run whose automation was deleted is not an error; there is no counter left
// to maintain.
func (rr *RunRepository) countRun(ctx context.Context, run *models.Run, apply func(*models.Automation)) error {
	err := rr.automations.increment(ctx, run.AutomationID, apply)
	if err != nil && !errors.Is(err, persistence.ErrAutomationNotFound) {
		return persistence.NewRunError("countRun", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return rr.read(id)
}

func (rr *RunRepository) Update(ctx context.Context, run *models.Run) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := rr.read(run.ID); err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	run.UpdatedAt = time.Now().UTC()

	return rr.write(run)
}

// Claim performs the compare-and-swap status transition under the repository
// mutex so that exactly one caller wins.
func (rr *RunRepository) Claim(_ context.Context, runID string, expected, next models.RunStatus) (bool, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	run, err := rr.read(runID)
	if err != nil {
		return false, persistence.NewRunError("Claim", runID, err)
	}

	if run.Status != expected {
		return false, nil
	}

	run.Status = next
	run.UpdatedAt = time.Now().UTC()

	if err := rr.write(run); err != nil {
		return false, persistence.NewRunError("Claim", runID, err)
	}

	return true, nil
}

func (rr *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Run, error) {
	runs, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Run, 0)

	for _, run := range runs {
		if run.Status == models.RunStatusWaiting && run.DueAt != nil && !run.DueAt.After(now) {
			due = append(due, run)
		}
	}

	return due, nil
}

func (rr *RunRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.Run, error) {
	runs, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Run, 0)

	for _, run := range runs {
		if run.AutomationID == automationID {
			matches = append(matches, run)
		}
	}

	return matches, nil
}

func (rr *RunRepository) ExistsSince(ctx context.Context, automationID, entityID string, since time.Time) (bool, error) {
	runs, err := rr.loadAll(ctx)
	if err != nil {
		return false, err
	}

	for _, run := range runs {
		if run.AutomationID == automationID && run.EntityID == entityID && !run.CreatedAt.Before(since) {
			return true, nil
		}
	}

	return false, nil
}

func (rr *RunRepository) read(id string) (*models.Run, error) {
	data, err := os.ReadFile(rr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}

	var run models.Run

	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) write(run *models.Run) error {
	if err := os.MkdirAll(rr.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	if err := os.WriteFile(rr.path(run.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) loadAll(_ context.Context) ([]*models.Run, error) {
	root := os.DirFS(rr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		run, err := rr.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to load run from %s: %w", name, err)
		}

		runs = append(runs, run)
	}

	return runs, nil
}
