// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errorkind holds the categorized error values described in
// spec.md §7. The retry manager and the op handlers in internal/fs match
// on Kind, never on error strings.
package errorkind

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error for retry classification and for translating
// it into a POSIX errno at the op-handler boundary.
type Kind int

const (
	// KindPosix carries an exact POSIX errno from a syscall or from the
	// backend's fs123-errno header; surfaced to the kernel verbatim.
	KindPosix Kind = iota
	// KindHTTPStatus carries a non-200/non-304 HTTP status.
	KindHTTPStatus
	// KindTransport carries a transport-level failure (connection reset,
	// timeout, DNS failure, etc).
	KindTransport
	// KindProtocol covers malformed headers, checksum/magic mismatches,
	// and other wire-format violations. Non-retryable; EIO-class.
	KindProtocol
	// KindConsistency covers ESTALE-class failures: validator
	// non-monotonicity, inode-identity mismatch after a no-cache retry.
	KindConsistency
	// KindResource covers allocation failures and file-descriptor
	// exhaustion.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindPosix:
		return "posix"
	case KindHTTPStatus:
		return "http-status"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindConsistency:
		return "consistency"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// TransportCode enumerates the transport-specific failure codes named in
// spec.md §7 whose retryability the retry manager must recognize.
type TransportCode int

const (
	TransportUnknown TransportCode = iota
	TransportConnectionReset
	TransportTimedOut
	TransportHostUnreachable
	TransportNetUnreachable
	TransportCouldNotConnect
	TransportCouldNotResolve
	TransportOperationTimedOut
)

// Error is the structured error value propagated by every layer.
type Error struct {
	Kind Kind

	// Errno is the POSIX errno for KindPosix, or a best-effort EIO-class
	// mapping for other kinds at the op-handler boundary.
	Errno int

	// HTTPStatus is set for KindHTTPStatus.
	HTTPStatus int

	// Transport is set for KindTransport.
	Transport TransportCode

	// Op/Context names the operation and any identifying context (inode,
	// path) for logging, per spec.md §7.
	Op string

	Err error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%v)", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry manager (§4.5) should retry this
// error: HTTP 503, and the enumerated transient transport codes.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindHTTPStatus:
		return e.HTTPStatus == 503
	case KindTransport:
		switch e.Transport {
		case TransportConnectionReset, TransportTimedOut, TransportHostUnreachable,
			TransportNetUnreachable, TransportCouldNotConnect, TransportCouldNotResolve,
			TransportOperationTimedOut:
			return true
		}
	}
	return false
}

// Posix wraps a POSIX errno.
func Posix(op string, errno int, err error) *Error {
	return &Error{Kind: KindPosix, Errno: errno, Op: op, Err: err}
}

// HTTPStatusErr wraps a non-200/non-304 HTTP status.
func HTTPStatusErr(op string, status int, err error) *Error {
	return &Error{Kind: KindHTTPStatus, HTTPStatus: status, Op: op, Err: err}
}

// Transport wraps a transport-level failure.
func Transport(op string, code TransportCode, err error) *Error {
	return &Error{Kind: KindTransport, Transport: code, Op: op, Err: err}
}

// Protocol wraps a malformed-wire-format failure.
func Protocol(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Errno: EIO, Op: op, Err: err}
}

// Consistency wraps an ESTALE-class failure.
func Consistency(op string, err error) *Error {
	return &Error{Kind: KindConsistency, Errno: ESTALE, Op: op, Err: err}
}

// Resource wraps an allocation/fd-exhaustion failure.
func Resource(op string, err error) *Error {
	return &Error{Kind: KindResource, Errno: ENOMEM, Op: op, Err: err}
}

// POSIX errno constants used at the op-handler boundary. Defined locally
// (rather than imported from golang.org/x/sys/unix at every call site) so
// that internal/fs can match on them without a platform-specific import.
const (
	ENOENT = 2
	EIO    = 5
	EINVAL = 22
	ENOMEM = 12
	ERANGE = 34
	ESTALE = 116
)

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
