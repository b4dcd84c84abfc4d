package pipeline

import (
	"errors"

	"github.com/kalambet/pdfsum/internal/extract"
	"github.com/kalambet/pdfsum/internal/llm"
	"github.com/kalambet/pdfsum/internal/summarize"
)

// ErrEmptyText is returned when a document yields no extractable text.
var ErrEmptyText = errors.New("no text extracted from PDF; check the file quality")

// InputError reports a problem with the submitted document itself.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// Kind classifies a job failure for the caller.
type Kind string

const (
	KindInput      Kind = "input"
	KindDependency Kind = "dependency"
	KindModel      Kind = "model"
	KindInternal   Kind = "internal"
)

// Classify maps an error returned by Run to its Kind. A nil error is
// classified as internal; callers check for nil first.
func Classify(err error) Kind {
	var inputErr *InputError
	var depErr *extract.DependencyError
	switch {
	case errors.As(err, &inputErr):
		return KindInput
	case errors.As(err, &depErr):
		return KindDependency
	case errors.Is(err, llm.ErrModelUnavailable), errors.Is(err, summarize.ErrSummarizationFailed):
		return KindModel
	default:
		return KindInternal
	}
}
