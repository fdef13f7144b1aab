// Package ccerrors defines the error-kind taxonomy from spec.md §7. Every
// component maps its low-level failures onto one of these kinds at its
// boundary, the way the engine is required to.
package ccerrors

import "github.com/pkg/errors"

// Kind is one of the named error kinds from spec.md §7.
type Kind string

const (
	KindUncacheableReason        Kind = "uncacheable_reason"
	KindUnsupportedCompilerOpt   Kind = "unsupported_compiler_option"
	KindBadCompilerArguments     Kind = "bad_compiler_arguments"
	KindBadInputFile             Kind = "bad_input_file"
	KindBadOutputFile            Kind = "bad_output_file"
	KindMissingCacheFile         Kind = "missing_cache_file"
	KindInternalError            Kind = "internal_error"
	KindRemoteStorageError       Kind = "remote_storage_error"
	KindRemoteStorageTimeout     Kind = "remote_storage_timeout"
	KindCompileFailed            Kind = "compile_failed"
)

// Error wraps an underlying cause with its taxonomy Kind and, for
// uncacheable/unsupported reasons, the specific statistic-counter name to
// increment (spec.md §7's "increment a specific counter").
type Error struct {
	Kind    Kind
	Reason  string // statistic-counter name, e.g. "multiple_source_files"
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + "/" + e.Reason + ": " + e.Cause.Error()
	}
	return string(e.Kind) + "/" + e.Reason
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a *Error with the given kind/reason and no underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs a *Error wrapping cause.
func Wrap(cause error, kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// As is a small helper over errors.As for the common case of extracting
// the taxonomy Kind/Reason from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
