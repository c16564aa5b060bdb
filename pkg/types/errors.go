// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Only ErrSourceUnavailable is fatal to a run;
// every other error is scoped to one paper and retried on the next run.
var (
	ErrSourceUnavailable = errors.New("bibliographic source unavailable")
	ErrFetchFailure      = errors.New("PDF fetch failed")
	ErrExtractionFailure = errors.New("text extraction failed")
	ErrQuotaExceeded     = errors.New("service quota exceeded")
	ErrServiceError      = errors.New("external service error")
)

// StageError ties a per-paper failure to the stage that produced it.
type StageError struct {
	PaperID string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.PaperID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err for paper id at the named stage.
func NewStageError(paperID, stage string, err error) *StageError {
	return &StageError{PaperID: paperID, Stage: stage, Err: err}
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
