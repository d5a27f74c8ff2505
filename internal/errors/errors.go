package ierr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel marks. Every error surfaced by a service carries exactly one of these
// so transport layers can map it without string matching.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrVersionConflict  = errors.New("version conflict")
	ErrValidation       = errors.New("validation error")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrHTTPClient       = errors.New("http client error")
	ErrDatabase         = errors.New("database error")
	ErrSystem           = errors.New("system error")
	ErrInternal         = errors.New("internal error")

	// billing
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUncorrelatedEvent   = errors.New("uncorrelated event")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrPlanLimitExceeded   = errors.New("plan limit exceeded")
	ErrNotImplemented      = errors.New("not implemented")
)

// ErrorBuilder accumulates context on an error before it is marked.
type ErrorBuilder struct {
	err     error
	msg     string
	hint    string
	details map[string]any
}

// NewError starts a builder from a fresh message.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{
		err: errors.New(msg),
		msg: msg,
	}
}

// NewErrorf starts a builder from a formatted message.
func NewErrorf(format string, args ...any) *ErrorBuilder {
	return NewError(fmt.Sprintf(format, args...))
}

// WithError wraps an existing error. A nil err yields a builder for a generic
// internal error so callers never panic on a missing cause.
func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &ErrorBuilder{
		err: err,
		msg: err.Error(),
	}
}

// WithMessage replaces the message while keeping the cause.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.msg = msg
	b.err = errors.Wrap(b.err, msg)
	return b
}

// WithHint adds a user facing hint.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.hint = hint
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf adds a formatted user facing hint.
func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	return b.WithHint(fmt.Sprintf(format, args...))
}

// WithReportableDetails attaches safe, structured details that may be
// returned to API clients.
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]any, len(details))
	}
	for k, v := range details {
		b.details[k] = v
	}
	return b
}

// Mark finalizes the builder with a sentinel.
func (b *ErrorBuilder) Mark(reference error) error {
	return &InternalError{
		Err:     errors.Mark(b.err, reference),
		Msg:     b.msg,
		Hint:    b.hint,
		Details: b.details,
	}
}

// InternalError is the concrete error returned by Mark.
type InternalError struct {
	Err     error
	Msg     string
	Hint    string
	Details map[string]any
}

func (e *InternalError) Error() string {
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// DisplayError returns the hint when present, otherwise the message.
func (e *InternalError) DisplayError() string {
	if e.Hint != "" {
		return e.Hint
	}
	return e.Msg
}

// As extracts the InternalError from a chain.
func As(err error) (*InternalError, bool) {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsInvalidPlan(err error) bool {
	return errors.Is(err, ErrInvalidPlan)
}

func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

func IsUncorrelatedEvent(err error) bool {
	return errors.Is(err, ErrUncorrelatedEvent)
}

func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

func IsPlanLimitExceeded(err error) bool {
	return errors.Is(err, ErrPlanLimitExceeded)
}

func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}
