package cryptofs

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Kind classifies a failure the way the operation boundary needs to
// translate it into an errno-equivalent.
type Kind int

const (
	// Unexpected is the zero value so an unset Kind fails loud rather
	// than silently behaving like some specific, chosen error.
	Unexpected Kind = iota
	NotFound
	Exists
	NotADirectory
	NotPermitted
	InvalidArgument
	BadFD
	ReadOnly
	IO
	Corrupted
	// NotEmpty covers rmdir on a directory that still has entries.
	NotEmpty
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case Exists:
		return "EXISTS"
	case NotADirectory:
		return "NOT_A_DIRECTORY"
	case NotPermitted:
		return "NOT_PERMITTED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case BadFD:
		return "BAD_FD"
	case ReadOnly:
		return "READ_ONLY"
	case IO:
		return "IO"
	case Corrupted:
		return "CORRUPTED"
	case NotEmpty:
		return "NOT_EMPTY"
	default:
		return "UNEXPECTED"
	}
}

// Error is the single typed error carried across every component
// boundary: one shape tagged by Kind rather than a hierarchy of
// per-concern error types.
type Error struct {
	Kind Kind
	Op   string // the component operation that failed, e.g. "Directory.add_entry"
	Path string // optional; path or id string relevant to the failure
	Err  error  // optional wrapped cause
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error. err may be nil.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath returns a copy of e annotated with a path or id context.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// Is reports whether err carries the given Kind, unwrapping through
// any wrapped *Error chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Unexpected for any
// error that didn't originate as an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Errno-equivalents the operation boundary returns, mirroring the
// POSIX values a FUSE callback must produce without importing syscall
// numbers into the core.
const (
	ErrnoOK              = 0
	ErrnoNotFound        = -2  // ENOENT
	ErrnoIO              = -5  // EIO
	ErrnoBadFD           = -9  // EBADF
	ErrnoPermission      = -13 // EACCES
	ErrnoExists          = -17 // EEXIST
	ErrnoNotADirectory   = -20 // ENOTDIR
	ErrnoInvalidArgument = -22 // EINVAL
	ErrnoReadOnly        = -30 // EROFS
	ErrnoNotEmpty        = -39 // ENOTEMPTY
)

// Errno converts e into the negative errno-equivalent used at the
// operation boundary. UNEXPECTED is surfaced as NOT_PERMITTED.
func (e *Error) Errno() int {
	switch e.Kind {
	case NotFound:
		return ErrnoNotFound
	case Exists:
		return ErrnoExists
	case NotADirectory:
		return ErrnoNotADirectory
	case NotPermitted:
		return ErrnoPermission
	case InvalidArgument:
		return ErrnoInvalidArgument
	case BadFD:
		return ErrnoBadFD
	case ReadOnly:
		return ErrnoReadOnly
	case IO:
		return ErrnoIO
	case Corrupted:
		return ErrnoIO
	case NotEmpty:
		return ErrnoNotEmpty
	default:
		return ErrnoPermission
	}
}

// ToErrno converts any error into a negative errno-equivalent at the
// operation boundary, logging CORRUPTED/IO/UNEXPECTED with inode
// context. log may be nil, in which case nothing is logged.
func ToErrno(log *logrus.Entry, context string, err error) int {
	if err == nil {
		return ErrnoOK
	}
	var e *Error
	if !errors.As(err, &e) {
		if log != nil {
			log.WithField("context", context).WithError(err).Error("unexpected error")
		}
		return ErrnoPermission
	}
	switch e.Kind {
	case Corrupted, IO:
		if log != nil {
			entry := log.WithField("context", context)
			if e.Path != "" {
				entry = entry.WithField("id", e.Path)
			}
			entry.WithError(e).Warn(e.Kind.String())
		}
	case Unexpected:
		if log != nil {
			log.WithField("context", context).WithError(e).Error("unexpected error")
		}
	}
	return e.Errno()
}

// wrapIO is a convenience for the common "storage layer returned a
// plain error" translation.
func wrapIO(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return NewError(IO, op, err)
}

var errShortBuffer = errors.New("buffer too small")

func invalidArgf(op, format string, args ...any) *Error {
	return NewError(InvalidArgument, op, fmt.Errorf(format, args...))
}
