// Package sendmessage implements the SEND_MESSAGE step: it renders the
// configured subject and body templates from the run's entity context and
// hands the result to the delivery collaborator.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/journeyhq/journey/pkg/mailer"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/template"
)

var ErrNoRecipient = errors.New("send_message step resolved an empty recipient address")

type Step struct {
	mailer  mailer.Mailer
	to      string
	subject string
	body    string
}

func (s *Step) Execute(ctx context.Context, run *models.Run, logger *slog.Logger) (*protocol.StepResult, error) {
	to := template.Render(s.to, run.Context)
	if to == "" {
		return nil, ErrNoRecipient
	}

	msg := mailer.Message{
		TenantID: run.TenantID,
		To:       to,
		Subject:  template.Render(s.subject, run.Context),
		Body:     template.Render(s.body, run.Context),
		Tags: map[string]string{
			"automation_id": run.AutomationID,
			"run_id":        run.ID,
		},
	}

	deliveryID, err := s.mailer.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to deliver message: %w", err)
	}

	logger.Info("Message delivered",
		"run_id", run.ID,
		"to", to,
		"delivery_id", deliveryID)

	return &protocol.StepResult{
		Detail: fmt.Sprintf("message delivered to %s (delivery %s)", to, deliveryID),
	}, nil
}
