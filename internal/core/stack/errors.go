// Package stack contains pure functions for parsing declarative stack
// specifications. This is part of the Functional Core - all functions are
// pure with no I/O.
package stack

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("stack spec is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoServices = errors.New("stack spec must define at least one service")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must have an image")
	ErrServiceInvalidPort = errors.New("invalid port configuration")

	// Reference validation errors
	ErrUnknownDependency = errors.New("depends_on references unknown service")
	ErrUnknownVolume     = errors.New("mount references unknown volume")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported stack feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Reference Errors
// =============================================================================

// DanglingRef identifies one unresolved reference in the graph.
type DanglingRef struct {
	Service string // service holding the reference
	Kind    string // "depends_on" or "volume"
	Name    string // the missing target
}

func (r DanglingRef) String() string {
	return fmt.Sprintf("services.%s: %s %q does not resolve", r.Service, r.Kind, r.Name)
}

// ReferenceError reports every dangling depends_on or named-volume
// reference found in a graph. The graph is invalid and must not be started.
type ReferenceError struct {
	Refs []DanglingRef
}

func (e *ReferenceError) Error() string {
	parts := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		parts[i] = r.String()
	}
	return "unresolved references: " + strings.Join(parts, "; ")
}

// Missing returns the names of all unresolved targets.
func (e *ReferenceError) Missing() []string {
	names := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		names[i] = r.Name
	}
	return names
}

func (e *ReferenceError) Unwrap() error {
	if len(e.Refs) == 0 {
		return nil
	}
	if e.Refs[0].Kind == "volume" {
		return ErrUnknownVolume
	}
	return ErrUnknownDependency
}
