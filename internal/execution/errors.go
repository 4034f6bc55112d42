package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/convertcredits/backend/internal/models"
)

// ErrWorkerTimeout marks an attempt that exceeded its policy timeout. It is retried.
var ErrWorkerTimeout = errors.New("conversion attempt timed out")

var errNotClaimable = errors.New("job is no longer claimable")

// ConversionError is a classified attempt failure. User-caused errors are
// terminal on the first occurrence; system errors are retried while attempts remain.
type ConversionError struct {
	Stage models.FailureStage
	Cause models.FailureCause
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Cause, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *ConversionError) Retryable() bool { return e.Cause != models.CauseUser }

func UserError(stage models.FailureStage, err error) *ConversionError {
	return &ConversionError{Stage: stage, Cause: models.CauseUser, Err: err}
}

func SystemError(stage models.FailureStage, err error) *ConversionError {
	return &ConversionError{Stage: stage, Cause: models.CauseSystem, Err: err}
}

// classify turns any converter error into a ConversionError. Deadline
// expiry of the attempt context becomes ErrWorkerTimeout.
func classify(ctx context.Context, err error) *ConversionError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return SystemError(models.StageDuringProcess, ErrWorkerTimeout)
	}
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce
	}
	return SystemError(models.StageDuringProcess, err)
}
