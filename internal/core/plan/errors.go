// Package plan contains pure functions for ordering a deployment graph and
// planning container configurations. This is part of the Functional Core -
// all functions are pure with no I/O.
package plan

import (
	"errors"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrCycle is the sentinel for dependency cycles.
var ErrCycle = errors.New("dependency cycle detected")

// CycleError reports that the dependency graph is not a DAG.
// Members lists every service on a cycle, in declaration order.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Members, " -> ")
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}
