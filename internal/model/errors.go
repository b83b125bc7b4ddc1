package model

import "errors"

// Error taxonomy shared by every layer. Callers wrap these with context
// (fmt.Errorf("%w: ...")) and test them with errors.Is.
var (
	// ErrNotFound means the target pane, window or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCaptureFailed means a read subprocess failed, timed out or overflowed.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrCommandFailed means a write subprocess failed or timed out.
	ErrCommandFailed = errors.New("command failed")
	// ErrInvalidArgument means a request did not pass validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrVerificationFailed means a relaunched pane is not running the expected agent.
	ErrVerificationFailed = errors.New("verification failed")
)
