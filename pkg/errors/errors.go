// Package errors provides error handling for the churn pipeline.
//
// It re-exports github.com/cockroachdb/errors and declares the three error
// kinds every component classifies its failures into:
//
//	ErrValidation       bad input, unsupported configuration, missing column
//	ErrNotFound         missing input file, experiment or run
//	ErrExternalService  tracking server or registry failures
//
// Kinds are attached with errors.Mark so the original message and stack are
// kept, and tested with errors.Is:
//
//	return errors.Mark(errors.Newf("column %q missing", name), errors.ErrValidation)
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error kinds. Use with Mark and Is.
var (
	// ErrValidation marks invalid input or configuration. Fatal for the unit of work.
	ErrValidation = New("validation error")

	// ErrNotFound marks a missing file, experiment, run or model.
	ErrNotFound = New("not found")

	// ErrExternalService marks a failure talking to the tracking server or registry.
	ErrExternalService = New("external service error")
)

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrValidation)
}

// NotFoundf creates a not-found error with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrNotFound)
}

// ExternalService wraps err as an external-service error with context.
func ExternalService(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(crdb.WrapWithDepth(1, err, context), ErrExternalService)
}

// IsValidation reports whether err is or wraps a validation error.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsNotFound reports whether err is or wraps a not-found error.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsExternalService reports whether err is or wraps an external-service error.
func IsExternalService(err error) bool {
	return err != nil && Is(err, ErrExternalService)
}
