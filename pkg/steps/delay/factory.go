package delay

import (
	"errors"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

var ErrInvalidDays = errors.New("delay step requires a positive 'days' config value")

type Factory struct {
	now func() time.Time
}

func NewFactory() *Factory {
	return &Factory{now: func() time.Time { return time.Now().UTC() }}
}

// NewFactoryWithClock injects the time source, for deterministic tests.
func NewFactoryWithClock(now func() time.Time) *Factory {
	return &Factory{now: now}
}

func (f *Factory) Kind() models.StepKind {
	return models.StepKindDelay
}

func (f *Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	days, ok := intFromConfig(config["days"])
	if !ok || days <= 0 {
		return nil, ErrInvalidDays
	}

	return &Step{days: days, now: f.now}, nil
}

// intFromConfig accepts the numeric types a JSON-decoded config may carry.
func intFromConfig(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}

		return int(v), true
	default:
		return 0, false
	}
}
