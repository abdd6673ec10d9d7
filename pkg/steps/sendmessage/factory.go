package sendmessage

import (
	"errors"

	"github.com/journeyhq/journey/pkg/mailer"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

// defaultRecipient delivers to the entity the run is about unless the step
// config overrides it.
const defaultRecipient = "{{entity.email}}"

var ErrMissingTemplates = errors.New("send_message step requires 'subject' and 'body' config values")

type Factory struct {
	mailer mailer.Mailer
}

func NewFactory(m mailer.Mailer) *Factory {
	return &Factory{mailer: m}
}

func (f *Factory) Kind() models.StepKind {
	return models.StepKindSendMessage
}

func (f *Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	if subject == "" || body == "" {
		return nil, ErrMissingTemplates
	}

	to, _ := config["to"].(string)
	if to == "" {
		to = defaultRecipient
	}

	return &Step{
		mailer:  f.mailer,
		to:      to,
		subject: subject,
		body:    body,
	}, nil
}
