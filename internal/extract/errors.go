package extract

import "fmt"

// DependencyError reports a failure of the OCR tool or the PDF text extractor.
// These are not retried; the caller resubmits the document.
type DependencyError struct {
	Stage string // "ocr" or "extract"
	Err   error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
