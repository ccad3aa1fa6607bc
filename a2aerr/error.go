// Package a2aerr defines the single error-kind taxonomy (spec.md §7) used
// by the protocol engine, router, supervisor, and security manager. Every
// subsystem boundary returns a *Error rather than a raw errors.New so
// callers can map to a JSON-RPC numeric code (§6) or a ServiceError
// classification uniformly.
package a2aerr

import (
	"fmt"

	goa "goa.design/goa/v3/pkg"
)

// Kind enumerates the taxonomy from spec.md §7.
type Kind string

const (
	InvalidMessage       Kind = "invalid_message"
	AgentNotFound        Kind = "agent_not_found"
	AgentOffline         Kind = "agent_offline"
	NoRoute              Kind = "no_route"
	TaskNotFound         Kind = "task_not_found"
	TaskTerminal         Kind = "task_terminal"
	PluginUnavailable    Kind = "plugin_unavailable"
	StartupTimeout       Kind = "startup_timeout"
	Timeout              Kind = "timeout"
	BackpressureExceeded Kind = "backpressure_exceeded"
	ChecksumMismatch     Kind = "checksum_mismatch"
	Unauthorized         Kind = "unauthorized"
	Forbidden            Kind = "forbidden"
	Expired              Kind = "expired"
	TooLarge             Kind = "too_large"
	RateLimited          Kind = "rate_limited"
	Internal             Kind = "internal"
)

// code is the JSON-RPC 2.0 application error code (spec.md §6).
var code = map[Kind]int{
	AgentNotFound:        1000,
	AgentOffline:         1001,
	InvalidMessage:       1002,
	TaskNotFound:         1003,
	TaskTerminal:         1004,
	NoRoute:              1005,
	Unauthorized:         1006,
	Forbidden:            1007,
	Expired:              1008,
	TooLarge:             1009,
	BackpressureExceeded: 1010,
	Timeout:              1011,
	ChecksumMismatch:     1012,
	PluginUnavailable:    1013,
	StartupTimeout:       1014,
	RateLimited:          1015,
}

// classification records whether a kind is retryable (temporary/timeout)
// for goa.design/goa/v3/pkg.ServiceError mapping.
var classification = map[Kind]struct {
	temporary bool
	timeout   bool
	fault     bool
}{
	AgentOffline:         {temporary: true},
	NoRoute:              {temporary: true},
	PluginUnavailable:    {temporary: true},
	RateLimited:          {temporary: true},
	Timeout:              {temporary: true, timeout: true},
	StartupTimeout:       {temporary: true, timeout: true},
	BackpressureExceeded: {temporary: true},
	Internal:             {fault: true},
}

// Error is the single typed error value returned at every component
// boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// JSONRPCCode returns the application error code from spec.md §6.
func (e *Error) JSONRPCCode() int {
	if c, ok := code[e.Kind]; ok {
		return c
	}
	return -32000 // generic JSON-RPC server error, for Internal/unknown kinds
}

// ServiceError adapts e to goa.design/goa/v3/pkg's error classification
// helpers so HTTP/gRPC transports built with goa report retryability
// (timeout/temporary/fault) uniformly with the rest of the runtime.
func (e *Error) ServiceError() error {
	c := classification[e.Kind]
	var err error = goa.PermanentError(string(e.Kind), "%s", e.Error())
	if c.fault {
		err = goa.Fault("%s", e.Error())
	}
	if c.temporary {
		err = goa.Temporary(err)
	}
	if c.timeout {
		err = goa.Timeout(err)
	}
	return err
}

// Of reports whether err is an *Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
