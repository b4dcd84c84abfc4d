package llm

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable matches every error returned after the retry budget is spent.
var ErrModelUnavailable = errors.New("model unavailable")

// ModelUnavailableError reports that a model call failed on every attempt.
// Err is the error from the last attempt.
type ModelUnavailableError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrModelUnavailable) true for any ModelUnavailableError.
func (e *ModelUnavailableError) Is(target error) bool {
	return target == ErrModelUnavailable
}
