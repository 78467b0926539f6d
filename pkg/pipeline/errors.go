package pipeline

import "errors"

// Failure codes recorded on sessions that reach the failed state.
const (
	CodeUnsupportedCodec = "unsupported_codec"
	CodeProbeFailed      = "probe_failed"
	CodeTranscodeFailed  = "transcode_failed"
	CodePinFailed        = "pin_failed"
	CodeSourceMissing    = "source_missing"
	CodeMaxRetries       = "max_retries_exceeded"
)

// permanentError marks a stage failure that retrying cannot fix. The worker
// moves the session to failed immediately instead of burning attempts.
type permanentError struct {
	code string
	err  error
}

func (e *permanentError) Error() string { return e.code + ": " + e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(code string, err error) error {
	return &permanentError{code: code, err: err}
}

// asPermanent extracts the failure code when err is permanent.
func asPermanent(err error) (string, bool) {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.code, true
	}
	return "", false
}

// stageError tags a retryable failure with the code the session records if
// every attempt is burned. Unlike permanentError it does not short-circuit
// retries.
type stageError struct {
	code string
	err  error
}

func (e *stageError) Error() string { return e.code + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func stageFailure(code string, err error) error {
	return &stageError{code: code, err: err}
}

// failureCode extracts the stage code carried by a retryable failure.
func failureCode(err error) (string, bool) {
	var se *stageError
	if errors.As(err, &se) {
		return se.code, true
	}
	return "", false
}

// errSessionGone aborts processing without failing the session: it was
// aborted or deleted while the worker held it.
var errSessionGone = errors.New("session no longer processable")
