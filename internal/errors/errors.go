// Package errors defines the error categories surfaced by the segmentation pipeline.
//
// Every failure belongs to one of three categories: a configuration problem
// detected before or by the engine, a failure inside the registration engine,
// or a file system failure. Categories are tested with errors.Is against the
// sentinels below; no layer of the pipeline recovers from them.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the pipeline's error categories.
var (
	// ErrConfiguration indicates a malformed parameter map, a malformed affine
	// matrix or vector, or inputs that violate a pipeline precondition.
	ErrConfiguration = errors.New("configuration error")

	// ErrEngineExecution indicates the registration or transform engine failed.
	ErrEngineExecution = errors.New("engine execution error")

	// ErrIO indicates an image or parameter file could not be read or written.
	ErrIO = errors.New("io error")
)

// DetailError carries structured context for a categorized failure.
type DetailError struct {
	// Type is the error category (required).
	Type string

	// Message is the specific description (required).
	Message string

	// Field names the offending parameter key or argument (optional).
	Field string

	// Context contains additional key-value context (optional).
	Context map[string]string

	// Hint provides actionable guidance (optional).
	Hint string

	// Cause is the underlying error (optional).
	Cause error
}

// Error implements the error interface.
func (e *DetailError) Error() string {
	var b strings.Builder

	b.WriteString(e.Type)
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Field != "" {
		b.WriteString(" (field ")
		b.WriteString(e.Field)
		b.WriteString(")")
	}

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(e.Context[k])
	}

	if e.Cause != nil && !isSentinel(e.Cause) {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	if e.Hint != "" {
		b.WriteString(" (hint: ")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *DetailError) Unwrap() error {
	return e.Cause
}

// Is reports whether the error belongs to the category of target.
func (e *DetailError) Is(target error) bool {
	switch e.Type {
	case typeConfiguration:
		return target == ErrConfiguration
	case typeEngine:
		return target == ErrEngineExecution
	case typeIO:
		return target == ErrIO
	}
	return false
}

const (
	typeConfiguration = "configuration error"
	typeEngine        = "engine execution error"
	typeIO            = "io error"
)

func isSentinel(err error) bool {
	return err == ErrConfiguration || err == ErrEngineExecution || err == ErrIO
}

// NewConfigurationError creates a configuration error for the given field.
func NewConfigurationError(message, field, hint string) error {
	return &DetailError{
		Type:    typeConfiguration,
		Message: message,
		Field:   field,
		Hint:    hint,
		Cause:   ErrConfiguration,
	}
}

// Configurationf creates a configuration error with a formatted message.
func Configurationf(format string, args ...interface{}) error {
	return NewConfigurationError(fmt.Sprintf(format, args...), "", "")
}

// NewEngineError wraps a failure reported by a registration or transform engine.
func NewEngineError(message string, cause error) error {
	if cause == nil {
		cause = ErrEngineExecution
	}
	return &DetailError{
		Type:    typeEngine,
		Message: message,
		Cause:   cause,
	}
}

// NewEngineErrorWithContext wraps an engine failure and attaches key-value context,
// typically the engine's executable and the tail of its log.
func NewEngineErrorWithContext(message string, context map[string]string, cause error) error {
	err := NewEngineError(message, cause).(*DetailError)
	err.Context = context
	return err
}

// NewIOError wraps a file system failure for path.
func NewIOError(path string, cause error) error {
	if cause == nil {
		cause = ErrIO
	}
	return &DetailError{
		Type:    typeIO,
		Message: "cannot access " + path,
		Context: map[string]string{"path": path},
		Cause:   cause,
	}
}

// Category returns the sentinel an error belongs to, or nil if it is uncategorized.
func Category(err error) error {
	for _, sentinel := range []error{ErrConfiguration, ErrEngineExecution, ErrIO} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
