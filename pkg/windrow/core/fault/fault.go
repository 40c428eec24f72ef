// Package fault implements failure classification for the chunk
// engine: error categories, the category-to-outcome table and the
// per-run policy enforcing retry and skip ceilings.
package fault

import (
	"errors"
	"fmt"
)

// Category is the failure class attached to an error at the transform
// or sink boundary. Classification drives the outcome table.
type Category string

const (
	// CategoryTransient marks failures expected to clear on retry, such
	// as connection resets or lock timeouts.
	CategoryTransient Category = "transient"
	// CategoryValidation marks per-record failures that no retry can
	// fix, such as malformed payloads.
	CategoryValidation Category = "validation"
	// CategoryFatal marks failures that must end the run.
	CategoryFatal Category = "fatal"
)

// String returns the string representation of the Category.
func (c Category) String() string {
	return string(c)
}

// Error is the classified error type of the engine. Components wrap
// their failures in it so the policy can resolve an outcome; anything
// unclassified resolves to CategoryFatal.
type Error struct {
	Category Category
	Module   string
	Message  string
	Err      error
}

// New creates a classified error.
func New(category Category, module, message string, err error) *Error {
	return &Error{Category: category, Module: module, Message: message, Err: err}
}

// Transient wraps err as a transient failure.
func Transient(module, message string, err error) *Error {
	return New(CategoryTransient, module, message, err)
}

// Validation wraps err as a per-record validation failure.
func Validation(module, message string, err error) *Error {
	return New(CategoryValidation, module, message, err)
}

// Fatal wraps err as a run-ending failure.
func Fatal(module, message string, err error) *Error {
	return New(CategoryFatal, module, message, err)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Module, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Module, e.Category, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Categorize resolves the category of an error by walking its chain for
// a classified *Error. Unclassified errors are fatal: the engine fails
// closed rather than guessing that an unknown failure is safe to skip.
func Categorize(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryFatal
}
