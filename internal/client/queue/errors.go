package queue

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is returned by Enqueue when the mutation could
	// not be made durable. The mutation is not queued.
	ErrStorageUnavailable = errors.New("mutation queue storage unavailable")

	// ErrNoHandler is returned by Resume when a queued mutation has a kind
	// nobody registered a handler for.
	ErrNoHandler = errors.New("no handler registered for mutation kind")

	// ErrRetriesExhausted wraps the last error of a mutation dropped after
	// MaxAttempts retries.
	ErrRetriesExhausted = errors.New("retries exhausted")

	ErrInvalidMutation = errors.New("invalid mutation")
)

// Outcome is the classification of one replay attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetry keeps the mutation and counts the attempt.
	OutcomeRetry
	// OutcomeWait keeps the mutation without counting the attempt; used for
	// conditions outside the mutation's control such as being offline.
	OutcomeWait
	// OutcomeTerminal drops the mutation and calls OnFailure.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeWait:
		return "wait"
	case OutcomeTerminal:
		return "terminal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// TerminalError marks an error that must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the queue drops the mutation instead of retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err, or anything it wraps, is a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// PostponedError marks an error caused by the environment (connectivity,
// session) rather than the mutation itself.
type PostponedError struct {
	Err error
}

func (e *PostponedError) Error() string { return "postponed: " + e.Err.Error() }
func (e *PostponedError) Unwrap() error { return e.Err }

// Postpone wraps err so the mutation waits without using up an attempt.
func Postpone(err error) error {
	if err == nil {
		return nil
	}
	return &PostponedError{Err: err}
}

// DefaultClassify maps explicit markers and context cancellation; every
// other error is retried.
func DefaultClassify(err error) Outcome {
	var pe *PostponedError
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsTerminal(err):
		return OutcomeTerminal
	case errors.As(err, &pe), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeWait
	default:
		return OutcomeRetry
	}
}
