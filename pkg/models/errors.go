package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

// ErrorKind constants
const (
	KindResolution  ErrorKind = "resolution"
	KindAcquisition ErrorKind = "acquisition"
	KindComposer    ErrorKind = "composer"
	KindCatalog     ErrorKind = "catalog"
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
)

// Error is the error type returned by every pipeline stage
type Error struct {
	Kind ErrorKind
	Op   string
	// Status is the upstream status code, when one exists (catalog API)
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels such as
// ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is checks
var (
	ErrResolution  = &Error{Kind: KindResolution}
	ErrAcquisition = &Error{Kind: KindAcquisition}
	ErrComposer    = &Error{Kind: KindComposer}
	ErrCatalog     = &Error{Kind: KindCatalog}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// ErrNoCaption means the source has no caption track in the requested
// language. It is not a pipeline failure.
var ErrNoCaption = errors.New("no caption available")

// ResolutionError wraps a metadata lookup failure
func ResolutionError(op string, err error) error {
	return &Error{Kind: KindResolution, Op: op, Err: err}
}

// AcquisitionError wraps a stream fetch failure
func AcquisitionError(op string, err error) error {
	return &Error{Kind: KindAcquisition, Op: op, Err: err}
}

// ComposerError wraps a merge or burn-in failure
func ComposerError(op string, err error) error {
	return &Error{Kind: KindComposer, Op: op, Err: err}
}

// CatalogError wraps a catalog API failure, keeping the provider status
func CatalogError(op string, status int, err error) error {
	return &Error{Kind: KindCatalog, Op: op, Status: status, Err: err}
}

// ValidationError reports an unsupported parameter combination
func ValidationError(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFoundError reports a missing artifact
func NotFoundError(op string, name string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%q not found", name)}
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
