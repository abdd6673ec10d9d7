// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/journeyhq/journey/pkg/mailer"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/steps/delay"
	"github.com/journeyhq/journey/pkg/steps/sendmessage"
)

// NewRegistry builds the step registry with the native step kinds. The mailer
// endpoint may be empty in development, in which case deliveries are recorded
// in memory instead of sent.
func NewRegistry(logger *slog.Logger, mailerEndpoint, mailerAPIKey string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	var m mailer.Mailer
	if mailerEndpoint != "" {
		m = mailer.NewHTTPMailer(mailerEndpoint, mailerAPIKey)
	} else {
		logger.Warn("No mailer endpoint configured, recording messages in memory")

		m = mailer.NewRecorder()
	}

	reg.RegisterStep(delay.NewFactory())
	reg.RegisterStep(sendmessage.NewFactory(m))

	return reg
}
