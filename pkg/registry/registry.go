// Package registry maps step kinds to their executor factories so new step
// kinds can be added without touching the run state machine.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

type Registry struct {
	logger        *slog.Logger
	stepFactories map[models.StepKind]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		stepFactories: make(map[models.StepKind]protocol.StepFactory),
	}
}

func (r *Registry) RegisterStep(factory protocol.StepFactory) {
	r.stepFactories[factory.Kind()] = factory
}

// CreateExecutor builds an executor for the given step kind, configured with
// the step's raw config.
func (r *Registry) CreateExecutor(kind models.StepKind, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.stepFactories[kind]
	if !ok {
		return nil, fmt.Errorf("step kind '%s' not registered", kind)
	}

	return factory.Create(config)
}

// StepKinds lists the registered kinds, for capability discovery in the API.
func (r *Registry) StepKinds() []models.StepKind {
	kinds := make([]models.StepKind, 0, len(r.stepFactories))
	for kind := range r.stepFactories {
		kinds = append(kinds, kind)
	}

	return kinds
}
