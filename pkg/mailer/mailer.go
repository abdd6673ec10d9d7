// Package mailer is the outbound message-delivery boundary. The engine only
// depends on the Mailer interface; delivery, open and click tracking live in
// the external provider.
package mailer

import "context"

// Message is one outbound message. Tags carry correlation identifiers
// (automation and run IDs) so provider webhooks can be matched back to the
// run that sent the message.
type Message struct {
	TenantID string            `json:"tenant_id"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Mailer delivers one message and returns the provider's delivery ID.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}
