// Package smfserr defines the error kinds shared by every SMFS subsystem.
// Their translation to errno values lives in internal/fuseadapter.
package smfserr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the abstract error categories from the design.
type Kind int

const (
	// KindOther is the zero value; treated as an opaque I/O failure.
	KindOther Kind = iota
	KindNotFound
	KindNotDirectory
	KindIsDirectory
	KindExists
	KindPermissionDenied
	KindOutOfMemory
	KindInvalid
	KindNotSupported
	KindShuttingDown
	KindNetworkTransient
	KindNetworkFatal
	KindIo
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNotDirectory:
		return "not_directory"
	case KindIsDirectory:
		return "is_directory"
	case KindExists:
		return "exists"
	case KindPermissionDenied:
		return "permission_denied"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindInvalid:
		return "invalid"
	case KindNotSupported:
		return "not_supported"
	case KindShuttingDown:
		return "shutting_down"
	case KindNetworkTransient:
		return "network_transient"
	case KindNetworkFatal:
		return "network_fatal"
	case KindIo:
		return "io"
	default:
		return "other"
	}
}

// Error wraps an underlying error with the operation and path it occurred
// on, plus the abstract Kind used to pick a POSIX errno at the adapter
// boundary.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error for op/path with the given kind, wrapping err if
// non-nil or the kind's own description otherwise.
func New(op string, path string, kind Kind, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}

	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf extracts the Kind carried by err, or KindOther if err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindOther
}
