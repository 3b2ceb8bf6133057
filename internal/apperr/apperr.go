// Package apperr defines the error-kind taxonomy shared across the
// evoagent packages, matching the classification style the gateway
// uses for HTTP/provider errors (internal/llm.HTTPError).
package apperr

import "errors"

// Kind classifies an error for logging, retry, and HTTP-status mapping
// decisions made by callers further up the stack.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindInternal   Kind = "internal"
	KindCancelled  Kind = "cancelled"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "store.AppendJSONL"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. Returns nil if err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify returns the Kind attached to err, or KindInternal if err
// carries none.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrNotFound       = errors.New("not found")
	ErrBudgetExceeded = errors.New("token budget exceeded")
	ErrAlreadyHandled = errors.New("already handled")
	ErrRolledBack     = errors.New("backup already rolled back")
)
