package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes a pipeline failure for telemetry and for the
// user-visible error message prefix.
type ErrorKind string

// Supported error kinds.
const (
	KindDatabase          ErrorKind = "Database"
	KindExtractionService ErrorKind = "ExtractionService"
	KindPrimaryLLM        ErrorKind = "PrimaryLLM"
	KindSecondaryLLM      ErrorKind = "SecondaryLLM"
	KindValidation        ErrorKind = "Validation"
	KindRealtimeTransport ErrorKind = "RealtimeTransport"
	KindNetwork           ErrorKind = "Network"
	KindInternal          ErrorKind = "Internal"
	KindRateLimit         ErrorKind = "RateLimit"
	KindTimeout           ErrorKind = "Timeout"
	KindAuthentication    ErrorKind = "Authentication"
)

// ErrNotFound is returned by stores when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Error is the classified failure value that crosses from the resolver,
// extraction, analysis, and store layers into the worker. Retryability and
// the retry budget travel with the error itself because different failure
// sites warrant different budgets.
type Error struct {
	Kind       ErrorKind
	JobID      string
	Retryable  bool
	MaxRetries int
	RetryDelay time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and a default retry policy for that kind.
// Rate-limit errors get a longer delay and one extra attempt.
func NewError(kind ErrorKind, jobID string, err error) *Error {
	pe := &Error{
		Kind:       kind,
		JobID:      jobID,
		Err:        err,
		MaxRetries: 3,
	}
	switch kind {
	case KindValidation, KindAuthentication:
		pe.Retryable = false
		pe.MaxRetries = 0
	case KindDatabase:
		pe.Retryable = true
		pe.MaxRetries = 2
	case KindRateLimit:
		pe.Retryable = true
		pe.MaxRetries = 4
		pe.RetryDelay = 30 * time.Second
	case KindNetwork, KindTimeout, KindExtractionService, KindPrimaryLLM, KindSecondaryLLM:
		pe.Retryable = true
	default:
		pe.Retryable = false
	}
	return pe
}

// Classify returns err as a pipeline Error, wrapping unclassified errors as
// Internal (non-retryable) so the worker always has retry metadata.
func Classify(jobID string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.JobID == "" {
			pe.JobID = jobID
		}
		return pe
	}
	return NewError(KindInternal, jobID, err)
}

// FormatErrorMessage renders the persisted error_message column value.
func FormatErrorMessage(err *Error) string {
	return fmt.Sprintf("%s: %v", err.Kind, err.Err)
}
