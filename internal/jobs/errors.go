package jobs

import "errors"

// Sentinel errors for job lookups and state transitions. Handlers map
// these onto HTTP status codes; everything else is a 500.
var (
	ErrNotFound          = errors.New("job not found")
	ErrNotReady          = errors.New("report not ready")
	ErrConflict          = errors.New("job is processing")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Failure kinds recorded in a failed job's error column. The pipeline
// wraps the underlying cause with one of these so callers can classify
// failures with errors.Is while the job row keeps a readable message.
var (
	ErrInputInvalid          = errors.New("input_invalid")
	ErrExtractionFailed      = errors.New("extraction_failed")
	ErrCapabilityUnavailable = errors.New("capability_unavailable")
	ErrCapabilityRuntime     = errors.New("capability_runtime")
	ErrTranscript            = errors.New("transcript_error")
	ErrStageTimeout          = errors.New("stage_timeout")
	ErrCancelled             = errors.New("cancelled")
	ErrPersistence           = errors.New("persistence_error")
)
