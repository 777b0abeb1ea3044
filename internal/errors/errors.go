package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure so callers can switch on it without string
// matching.
type Kind int

const (
	// KindInvalidInput - malformed repository URL or configuration value.
	KindInvalidInput Kind = iota
	// KindRepoNotFound - the forge reported the repository does not exist.
	KindRepoNotFound
	// KindBranchNotFound - the forge reported the branch does not exist.
	KindBranchNotFound
	// KindForgeAPI - any other non-success forge response (auth, rate limit,
	// transport).
	KindForgeAPI
	// KindDecode - file content could not be decoded to text.
	KindDecode
	// KindRegistry - a package or container registry failed; never escapes
	// the registry clients.
	KindRegistry
	// KindInternal - unexpected failure during aggregation or orchestration.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindRepoNotFound:
		return "REPO_NOT_FOUND"
	case KindBranchNotFound:
		return "BRANCH_NOT_FOUND"
	case KindForgeAPI:
		return "FORGE_API"
	case KindDecode:
		return "DECODE"
	case KindRegistry:
		return "REGISTRY"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is a categorized error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. Returns nil when err
// is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for the kinds used throughout the engine.

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

func InvalidInputf(format string, args ...any) *Error {
	return Newf(KindInvalidInput, format, args...)
}

func RepoNotFoundf(format string, args ...any) *Error {
	return Newf(KindRepoNotFound, format, args...)
}

func BranchNotFoundf(format string, args ...any) *Error {
	return Newf(KindBranchNotFound, format, args...)
}

func ForgeAPI(err error, message string) *Error {
	return Wrap(err, KindForgeAPI, message)
}

func ForgeAPIf(err error, format string, args ...any) *Error {
	return Wrapf(err, KindForgeAPI, format, args...)
}

func Decode(err error, message string) *Error {
	return Wrap(err, KindDecode, message)
}

func Registryf(err error, format string, args ...any) *Error {
	return Wrapf(err, KindRegistry, format, args...)
}

func Internalf(format string, args ...any) *Error {
	return Newf(KindInternal, format, args...)
}
