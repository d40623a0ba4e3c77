package repositories

import "fmt"

// CounterErrorCode classifies order number counter failures.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the yearly sequence hit its configured ceiling.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError reports a failed counter read or increment. It satisfies RepositoryError so
// services can treat an exhausted sequence like any other conflict.
type CounterError struct {
	CounterID string
	Code      CounterErrorCode
	Message   string
	Err       error
}

var _ RepositoryError = (*CounterError)(nil)

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.CounterID != "" {
		return fmt.Sprintf("counter %s: %s", e.CounterID, e.Message)
	}
	return "counter: " + e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *CounterError) IsNotFound() bool    { return false }
func (e *CounterError) IsConflict() bool    { return e != nil && e.Code == CounterErrorExhausted }
func (e *CounterError) IsUnavailable() bool { return false }

// NewCounterError builds a CounterError. An empty message defaults to the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// WithCounter returns a copy of e tagged with the counter id.
func (e *CounterError) WithCounter(id string) *CounterError {
	if e == nil {
		return nil
	}
	out := *e
	out.CounterID = id
	return &out
}
