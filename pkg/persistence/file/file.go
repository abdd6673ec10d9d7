// Package file provides file-based persistence for local development and
// tests. One JSON document per record; claim atomicity is guarded by a
// process-wide mutex, which is enough for the single-process deployments this
// backend is meant for.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/journeyhq/journey/pkg/persistence"
)

type Persistence struct {
	root           string
	automationRepo *AutomationRepository
	runRepo        *RunRepository
	entityRepo     *EntityRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts both a plain path and a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	automationRepo := NewAutomationRepository(cleanRoot)

	return &Persistence{
		root:           cleanRoot,
		automationRepo: automationRepo,
		runRepo:        NewRunRepository(cleanRoot, automationRepo),
		entityRepo:     NewEntityRepository(cleanRoot),
	}
}

func (fp *Persistence) Automations() persistence.AutomationRepository {
	return fp.automationRepo
}

func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) Entities() persistence.EntityRepository {
	return fp.entityRepo
}

func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
