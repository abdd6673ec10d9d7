// Package delay implements the DELAY step: it computes a due time and asks
// the run state machine to suspend the run until then. No I/O happens here;
// the scheduler loop resumes the run once the due time has passed.
package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

type Step struct {
	days int
	now  func() time.Time
}

func (s *Step) Execute(_ context.Context, run *models.Run, logger *slog.Logger) (*protocol.StepResult, error) {
	dueAt := s.now().Add(time.Duration(s.days) * 24 * time.Hour)

	logger.Info("Delay step suspending run",
		"run_id", run.ID,
		"days", s.days,
		"due_at", dueAt)

	return &protocol.StepResult{
		Suspend: true,
		DueAt:   dueAt,
		Detail:  fmt.Sprintf("waiting %d day(s) until %s", s.days, dueAt.Format(time.RFC3339)),
	}, nil
}
