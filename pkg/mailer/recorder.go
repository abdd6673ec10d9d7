package mailer

import (
	"context"
	"fmt"
	"sync"
)

// Recorder captures messages instead of delivering them. It backs local
// development (no provider credentials) and tests, and can be armed with an
// error to exercise failure paths.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	nextErr  error
	sequence int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, msg Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nextErr != nil {
		err := r.nextErr
		r.nextErr = nil

		return "", err
	}

	r.messages = append(r.messages, msg)
	r.sequence++

	return fmt.Sprintf("delivery-%d", r.sequence), nil
}

// FailNext makes the next Send call return err instead of recording.
func (r *Recorder) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextErr = err
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)

	return out
}
