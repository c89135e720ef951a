package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/standardbeagle/shrinker/internal/types"
)

// Error types for the shrinker
type ErrorType string

const (
	// Graph errors
	ErrorTypeClassLookup      ErrorType = "class_lookup"
	ErrorTypeInvalidReference ErrorType = "invalid_reference"

	// Incremental run errors
	ErrorTypeIncrementalImpossible ErrorType = "incremental_impossible"

	// Input errors
	ErrorTypeParse        ErrorType = "parse"
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeIO           ErrorType = "io"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// ClassLookupError reports a class that was referenced but never added to the graph.
// It is always recoverable: walkers treat the branch as exhausted and resolution
// drops the reference.
type ClassLookupError struct {
	Type      ErrorType
	Class     string
	Operation string
	Timestamp time.Time
}

// NewClassLookupError creates a lookup error for class
func NewClassLookupError(op, class string) *ClassLookupError {
	return &ClassLookupError{
		Type:      ErrorTypeClassLookup,
		Class:     class,
		Operation: op,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *ClassLookupError) Error() string {
	return fmt.Sprintf("%s: class %s is not known to the graph", e.Operation, e.Class)
}

// IsClassLookup reports whether err wraps a ClassLookupError
func IsClassLookup(err error) bool {
	var target *ClassLookupError
	return stderrors.As(err, &target)
}

// InvalidReferenceError reports an edge whose endpoint is unknown to the graph
type InvalidReferenceError struct {
	Type   ErrorType
	Source types.Node
	Target types.Node
	Reason string
}

// NewInvalidReferenceError creates an invalid reference error
func NewInvalidReferenceError(source, target types.Node, reason string) *InvalidReferenceError {
	return &InvalidReferenceError{
		Type:   ErrorTypeInvalidReference,
		Source: source,
		Target: target,
		Reason: reason,
	}
}

// Error implements the error interface
func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference from %s to %s: %s", e.Source, e.Target, e.Reason)
}

// IncrementalImpossibleError aborts an incremental run. The caller must perform a
// full run instead; it is never swallowed.
type IncrementalImpossibleError struct {
	Type      ErrorType
	Subject   string
	Reason    string
	Timestamp time.Time
}

// NewIncrementalImpossibleError creates the incremental-impossible signal
func NewIncrementalImpossibleError(subject, format string, args ...interface{}) *IncrementalImpossibleError {
	return &IncrementalImpossibleError{
		Type:      ErrorTypeIncrementalImpossible,
		Subject:   subject,
		Reason:    fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *IncrementalImpossibleError) Error() string {
	return fmt.Sprintf("incremental run impossible: %s: %s", e.Subject, e.Reason)
}

// IsIncrementalImpossible reports whether err wraps an IncrementalImpossibleError
func IsIncrementalImpossible(err error) bool {
	var target *IncrementalImpossibleError
	return stderrors.As(err, &target)
}

// ParseError represents a malformed class file
type ParseError struct {
	Type       ErrorType
	Path       string
	Offset     int
	Underlying error
	Timestamp  time.Time
}

// NewParseError creates a new parse error
func NewParseError(path string, offset int, err error) *ParseError {
	return &ParseError{
		Type:       ErrorTypeParse,
		Path:       path,
		Offset:     offset,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse error in %s at offset %d: %v", e.Path, e.Offset, e.Underlying)
	}
	return fmt.Sprintf("parse error at offset %d: %v", e.Offset, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Underlying
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeIO
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		errorType = ErrorTypeFileNotFound
	case stderrors.Is(err, fs.ErrPermission):
		errorType = ErrorTypePermission
	}

	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
