package bus

import "github.com/reedfamily/reedlink/internal/event"

// HandlerError wraps a failure raised by a subscriber during Publish.
type HandlerError struct {
	SubscriptionID string
	Kind           event.Kind

	Err error

	// Stack is set when the handler panicked.
	Stack string
}

func (e *HandlerError) Error() string {
	return "handler " + e.SubscriptionID + " on " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Panicked reports whether the handler panicked rather than returning an error.
func (e *HandlerError) Panicked() bool {
	return e.Stack != ""
}
