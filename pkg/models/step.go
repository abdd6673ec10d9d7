package models

// StepKind selects the executor for a step. New kinds are added by
// registering a factory for them; the run state machine never changes.
type StepKind string

const (
	StepKindSendMessage StepKind = "SEND_MESSAGE"
	StepKindDelay       StepKind = "DELAY"
)

// Step is a single action within an automation. The position in the
// automation's step slice is the order of execution.
type Step struct {
	Kind   StepKind       `json:"kind"   validate:"required"`
	Config map[string]any `json:"config"`
}
