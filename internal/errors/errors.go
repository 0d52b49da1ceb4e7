// Package errors provides the error codes shared by the orchestration pipeline.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a class of failure.
type Code string

const (
	CodeUnknown                  Code = "UNKNOWN"
	CodeValidation               Code = "VALIDATION"
	CodeConfiguration            Code = "CONFIGURATION"
	CodeClassification           Code = "CLASSIFICATION"
	CodePlanning                 Code = "PLANNING"
	CodeCyclicPlan               Code = "CYCLIC_PLAN"
	CodeUnresolvedTool           Code = "UNRESOLVED_TOOL"
	CodeToolFailure              Code = "TOOL_FAILURE"
	CodeTimeout                  Code = "TIMEOUT"
	CodeUpstreamDependencyFailed Code = "UPSTREAM_DEPENDENCY_FAILED"
	CodeMemoryUnavailable        Code = "MEMORY_UNAVAILABLE"
	CodeStorageFailure           Code = "STORAGE_FAILURE"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeChatBusy                 Code = "CHAT_BUSY"
	CodePolicyDenied             Code = "POLICY_DENIED"
	CodeCancelled                Code = "CANCELLED"
)

// Attributes describe the default behaviour attached to a code.
type Attributes struct {
	Message string
	// Fatal errors abort the whole run.
	Fatal     bool
	Retryable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:                  {Message: "unknown error", Fatal: true},
		CodeValidation:               {Message: "invalid request"},
		CodeConfiguration:            {Message: "configuration error", Fatal: true},
		CodeClassification:           {Message: "intention classification failed", Fatal: true, Retryable: true},
		CodePlanning:                 {Message: "planning failed", Fatal: true},
		CodeCyclicPlan:               {Message: "plan contains a cycle", Fatal: true},
		CodeUnresolvedTool:           {Message: "tool is not bound to agent", Fatal: true},
		CodeToolFailure:              {Message: "tool failure"},
		CodeTimeout:                  {Message: "tool invocation timed out", Retryable: true},
		CodeUpstreamDependencyFailed: {Message: "UpstreamDependencyFailed"},
		CodeMemoryUnavailable:        {Message: "memory unavailable", Retryable: true},
		CodeStorageFailure:           {Message: "storage failure", Fatal: true, Retryable: true},
		CodeNotFound:                 {Message: "resource not found"},
		CodeChatBusy:                 {Message: "chat already has a run in flight", Retryable: true},
		CodePolicyDenied:             {Message: "action denied by policy"},
		CodeCancelled:                {Message: "run cancelled"},
	}
)

// Register adds or replaces the attributes of a code.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes of code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the error type carried across component boundaries.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option customises an Error.
type Option func(*Error)

// WithMetadata attaches a key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New creates an Error. An empty message uses the registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error around cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error code.
func (e *Error) Code() Code { return e.code }

// Message returns the human readable message without the code prefix.
func (e *Error) Message() string { return e.message }

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// From extracts an *Error from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if stdErrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or UNKNOWN.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}

// Describe renders err for users: the message and its cause, without the
// code prefix. Errors without a code render as err.Error().
func Describe(err error) string {
	if err == nil {
		return ""
	}
	e, ok := From(err)
	if !ok {
		return err.Error()
	}
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Fatal
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stdErrors.Is(err, target) }

func As(err error, target interface{}) bool { return stdErrors.As(err, target) }
