package summarize

import (
	"errors"
	"fmt"
)

// ErrSummarizationFailed matches every error returned by Summarize.
var ErrSummarizationFailed = errors.New("summarization failed")

// ErrNoChunks is wrapped when Summarize is called without input.
var ErrNoChunks = errors.New("no chunks to summarize")

// Phase names the step of the map-reduce pass that failed.
type Phase string

const (
	PhaseMap    Phase = "map"
	PhaseReduce Phase = "reduce"
)

// FailedError aborts a summarization job. Part is the 1-based chunk number for
// map failures and 0 for reduce failures.
type FailedError struct {
	Phase Phase
	Part  int
	Err   error
}

func (e *FailedError) Error() string {
	if e.Phase == PhaseMap && e.Part > 0 {
		return fmt.Sprintf("summarization failed in map phase at part %d: %v", e.Part, e.Err)
	}
	return fmt.Sprintf("summarization failed in %s phase: %v", e.Phase, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSummarizationFailed) true for any FailedError.
func (e *FailedError) Is(target error) bool {
	return target == ErrSummarizationFailed
}
