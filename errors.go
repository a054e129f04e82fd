package loom

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("loom: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("loom: entity not singular")

	// ErrCursorClosed is returned when reading from a result cursor after it was closed.
	ErrCursorClosed = errors.New("loom: cursor is closed")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("loom: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("loom: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string { return e.label }

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("loom: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("loom: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int { return e.count }

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// CompileError is raised while translating a query into its relational form,
// before any driver interaction. Path holds the offending path or construct text.
type CompileError struct {
	Path string
	Msg  string
}

// Error returns the error string.
func (e *CompileError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("loom: compile %q: %s", e.Path, e.Msg)
	}
	return "loom: compile: " + e.Msg
}

// NewCompileError returns a new CompileError for the given path.
func NewCompileError(path, format string, args ...any) *CompileError {
	return &CompileError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// IsCompileError returns true if the error is a CompileError or a ParameterError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var (
		ce *CompileError
		pe *ParameterError
	)
	return errors.As(err, &ce) || errors.As(err, &pe)
}

// ParameterError reports a parameter declaration or binding problem:
// mixed ordinal styles, gaps in ordinal positions, missing or unknown bindings.
type ParameterError struct {
	Parameter string // e.g. ":name", "?2" or "?"
	Msg       string
}

// Error returns the error string.
func (e *ParameterError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("loom: parameter %s: %s", e.Parameter, e.Msg)
	}
	return "loom: parameters: " + e.Msg
}

// NewParameterError returns a new ParameterError.
func NewParameterError(param, format string, args ...any) *ParameterError {
	return &ParameterError{Parameter: param, Msg: fmt.Sprintf(format, args...)}
}

// IsParameterError returns true if the error is a ParameterError.
func IsParameterError(err error) bool {
	if err == nil {
		return false
	}
	var e *ParameterError
	return errors.As(err, &e)
}

// Category classifies a storage failure.
type Category uint8

// Storage failure categories.
const (
	CategoryGeneric Category = iota
	CategoryConstraint
	CategoryTimeout
	CategoryGrammar
)

var categoryNames = [...]string{
	CategoryGeneric:    "generic",
	CategoryConstraint: "constraint",
	CategoryTimeout:    "timeout",
	CategoryGrammar:    "grammar",
}

// String returns the category name.
func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// ExecutionError wraps a driver failure that happened while executing a statement
// or reading its rows. The original cause is preserved.
type ExecutionError struct {
	SQL      string
	Category Category
	Err      error
}

// Error returns the error string.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("loom: execute (%s): %v", e.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError returns true if the error is an ExecutionError.
func IsExecutionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ExecutionError
	return errors.As(err, &e)
}

// IsConstraintError returns true if the error is an ExecutionError
// caused by a constraint violation.
func IsConstraintError(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.Category == CategoryConstraint
}

// AssemblyError reports a mismatch between the rows read and the metamodel,
// such as an unknown discriminator value or a missing identifier.
type AssemblyError struct {
	Entity string
	Path   string
	Msg    string
	Err    error
}

// Error returns the error string.
func (e *AssemblyError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("loom: assemble %s at %q: %s", e.Entity, e.Path, msg)
	}
	return fmt.Sprintf("loom: assemble %s: %s", e.Entity, msg)
}

// Unwrap returns the underlying error.
func (e *AssemblyError) Unwrap() error { return e.Err }

// IsAssemblyError returns true if the error is an AssemblyError.
func IsAssemblyError(err error) bool {
	if err == nil {
		return false
	}
	var e *AssemblyError
	return errors.As(err, &e)
}
