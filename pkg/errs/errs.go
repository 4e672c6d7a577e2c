// Package errs defines the error taxonomy shared by the peer handshake, the
// volume catalog and the transaction coordinator. Every error that crosses the
// RPC boundary is an *Error so that the remote side can reconstruct the code,
// the errno and the detail string.
package errs

import (
    "context"
    "errors"
    "fmt"

    "golang.org/x/sys/unix"
)

// Kind groups codes by how the caller is expected to react.
type Kind string

const (
    KindConnectivity Kind = "connectivity"
    KindProtocol     Kind = "protocol"
    KindConflict     Kind = "conflict"
    KindValidation   Kind = "validation"
    KindInternal     Kind = "internal"
)

// Code is a stable, user-facing error code.
type Code string

const (
    PeerUnreachable Code = "PEER_UNREACHABLE"
    Timeout         Code = "TIMEOUT"
    Protocol        Code = "PROTOCOL"
    Busy            Code = "BUSY"
    LockFailed      Code = "LOCK_FAILED"
    DuplicateVolume Code = "DUPLICATE_VOLUME"
    VolumeNotFound  Code = "VOLUME_NOT_FOUND"
    InvalidBrick    Code = "INVALID_BRICK"
    InvalidArgument Code = "INVALID_ARGUMENT"
    PeerNotFound    Code = "PEER_NOT_FOUND"
    PeerInUse       Code = "PEER_IN_USE"
    PartialCommit   Code = "PARTIAL_COMMIT"
    Internal        Code = "INTERNAL"
)

type codeInfo struct {
    kind  Kind
    errno unix.Errno
}

var codes = map[Code]codeInfo{
    PeerUnreachable: {KindConnectivity, unix.EHOSTUNREACH},
    Timeout:         {KindConnectivity, unix.ETIMEDOUT},
    Protocol:        {KindProtocol, unix.EPROTO},
    Busy:            {KindConflict, unix.EBUSY},
    LockFailed:      {KindConflict, unix.EBUSY},
    DuplicateVolume: {KindConflict, unix.EEXIST},
    VolumeNotFound:  {KindValidation, unix.ENOENT},
    InvalidBrick:    {KindValidation, unix.EINVAL},
    InvalidArgument: {KindValidation, unix.EINVAL},
    PeerNotFound:    {KindValidation, unix.ENOENT},
    PeerInUse:       {KindConflict, unix.EBUSY},
    PartialCommit:   {KindInternal, unix.EIO},
    Internal:        {KindInternal, unix.EIO},
}

// Kind reports the taxonomy bucket of the code. Unknown codes are internal.
func (c Code) Kind() Kind {
    if ci, ok := codes[c]; ok { return ci.kind }
    return KindInternal
}

// Errno returns the errno that travels with the code in RPC responses.
func (c Code) Errno() int32 {
    if ci, ok := codes[c]; ok { return int32(ci.errno) }
    return int32(unix.EIO)
}

// Error is a coded error. Cause is optional and only kept locally; it is not
// serialized.
type Error struct {
    Code   Code
    Errno  int32
    Detail string
    Cause  error
}

func (e *Error) Error() string {
    switch {
    case e.Detail != "" && e.Cause != nil:
        return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Cause)
    case e.Detail != "":
        return fmt.Sprintf("%s: %s", e.Code, e.Detail)
    case e.Cause != nil:
        return fmt.Sprintf("%s: %v", e.Code, e.Cause)
    }
    return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so errors.Is(err, errs.New(errs.Busy, ""))
// works regardless of detail.
func (e *Error) Is(target error) bool {
    var t *Error
    if errors.As(target, &t) { return t.Code == e.Code }
    return false
}

// New builds a coded error with a formatted detail.
func New(code Code, format string, args ...any) *Error {
    d := format
    if len(args) > 0 { d = fmt.Sprintf(format, args...) }
    return &Error{Code: code, Errno: code.Errno(), Detail: d}
}

// Wrap builds a coded error around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
    e := New(code, format, args...)
    e.Cause = cause
    return e
}

// CodeOf extracts the code from err. Context deadline errors map to Timeout;
// anything else uncoded is Internal. A nil error has an empty code.
func CodeOf(err error) Code {
    if err == nil { return "" }
    var e *Error
    if errors.As(err, &e) { return e.Code }
    if errors.Is(err, context.DeadlineExceeded) { return Timeout }
    return Internal
}

// Has reports whether err carries code.
func Has(err error, code Code) bool { return err != nil && CodeOf(err) == code }

// From converts any error into an *Error, preserving an existing code.
func From(err error) *Error {
    if err == nil { return nil }
    var e *Error
    if errors.As(err, &e) { return e }
    code := CodeOf(err)
    return &Error{Code: code, Errno: code.Errno(), Detail: err.Error(), Cause: err}
}
