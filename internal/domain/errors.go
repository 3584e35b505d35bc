package domain

import "errors"

// Error taxonomy surfaced by the engines. Transient failures are retried
// internally and only ErrRetriesExhausted ever reaches an operator.
var (
	// ErrAdmissionDenied is returned when preflight did not pass and no valid
	// force override was supplied.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrInvalidStateTransition is returned on an attempt to move an execution
	// record along an edge the state machine does not define.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidExecutionState is returned when an operation references an
	// execution record whose current status does not permit it.
	ErrInvalidExecutionState = errors.New("invalid execution state")

	// ErrChannelUnavailable classifies a transient adapter failure
	// (timeout, 5xx, rate limited). Eligible for retry.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrChannelRejected classifies a permanent adapter failure
	// (bad credentials, content rejected). Never retried.
	ErrChannelRejected = errors.New("channel rejected publish")

	// ErrRetriesExhausted is terminal after the maximum number of failed
	// transient attempts.
	ErrRetriesExhausted = errors.New("retries exhausted")

	ErrJobNotFound       = errors.New("job not found")
	ErrExecutionNotFound = errors.New("execution record not found")
	ErrUnknownChannel    = errors.New("unknown channel")
)

// IsTransient reports whether err classifies as a retriable adapter failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrChannelUnavailable)
}
