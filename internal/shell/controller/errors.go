// Package controller implements the lifecycle controller: it starts and
// stops the services of a deployment graph against a container runtime,
// respecting the resolved rank order.
package controller

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrStartupFailed is the sentinel for partial startup failures.
	ErrStartupFailed = errors.New("startup failed")

	// ErrCanceled is returned when startup is interrupted by the caller.
	ErrCanceled = errors.New("startup canceled")

	// ErrEnvFileMissing is returned when a required env file cannot be read.
	ErrEnvFileMissing = errors.New("required env file missing")
)

// StartupError reports a partial startup: which services reached Ready,
// which Failed, and which were never started because a dependency failed.
// Already-ready services are left running unless teardown was requested.
type StartupError struct {
	Ready     []string
	Failed    []string
	Unstarted []string
	Causes    map[string]error // per-service failure cause
}

func (e *StartupError) Error() string {
	var b strings.Builder
	b.WriteString("startup failed")
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, ": failed=[%s]", strings.Join(e.Failed, ", "))
	}
	if len(e.Unstarted) > 0 {
		fmt.Fprintf(&b, " unstarted=[%s]", strings.Join(e.Unstarted, ", "))
	}
	if len(e.Ready) > 0 {
		fmt.Fprintf(&b, " ready=[%s]", strings.Join(e.Ready, ", "))
	}
	return b.String()
}

func (e *StartupError) Unwrap() error {
	return ErrStartupFailed
}

// =============================================================================
// Stop Reporting
// =============================================================================

// StopFailure records one service that could not be stopped cleanly.
type StopFailure struct {
	Service string
	Err     error
}

// StopReport collects the outcome of a Down. Stop is best-effort: failures
// to stop one service never block stopping the rest, and are never fatal.
type StopReport struct {
	Stopped  []string
	Failures []StopFailure
}

// Failed reports whether any service failed to stop.
func (r *StopReport) Failed() bool {
	return len(r.Failures) > 0
}
