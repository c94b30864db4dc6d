package controller

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// Service State Machine
// =============================================================================

// ServiceState is the lifecycle state of one service in a running set.
type ServiceState string

const (
	StatePending  ServiceState = "pending"
	StateStarting ServiceState = "starting"
	StateReady    ServiceState = "ready"
	StateFailed   ServiceState = "failed"
	StateStopping ServiceState = "stopping"
	StateStopped  ServiceState = "stopped"
)

// validTransitions maps from-state to allowed to-states.
var validTransitions = map[ServiceState]map[ServiceState]bool{
	StatePending: {
		StateStarting: true, // Pending → Starting (rank reached)
		StateStopped:  true, // Pending → Stopped (cancel, or dependency failed)
	},
	StateStarting: {
		StateReady:    true, // Starting → Ready (readiness reached)
		StateFailed:   true, // Starting → Failed (start error or timeout)
		StateStopping: true, // Starting → Stopping (cancel during startup)
	},
	StateReady: {
		StateStopping: true, // Ready → Stopping (down)
	},
	StateFailed: {
		StateStopping: true, // Failed → Stopping (teardown-on-failure)
	},
	StateStopping: {
		StateStopped: true, // Stopping → Stopped
	},
	// Terminal
	StateStopped: {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to ServiceState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// =============================================================================
// Running Set
// =============================================================================

// ServiceStatus is the controller's record of one service.
type ServiceStatus struct {
	Name        string
	Rank        int
	Position    int
	State       ServiceState
	ContainerID string // the runtime handle, empty until created
	Err         error  // start or stop error, if any
}

// RunningSet is the controller's record of currently active service handles.
// It is owned exclusively by the lifecycle controller and updated only by
// it; rank workers go through the mutex.
type RunningSet struct {
	RunID string
	Stack string

	mu       sync.Mutex
	services map[string]*ServiceStatus
	order    []string   // linear start order
	ranks    [][]string // start order ranks
}

// newRunningSet builds a RunningSet with every service Pending.
func newRunningSet(runID, stackName string, ranks [][]string) *RunningSet {
	rs := &RunningSet{
		RunID:    runID,
		Stack:    stackName,
		services: make(map[string]*ServiceStatus),
		ranks:    ranks,
	}
	pos := 0
	for rank, names := range ranks {
		for _, name := range names {
			rs.services[name] = &ServiceStatus{
				Name:     name,
				Rank:     rank,
				Position: pos,
				State:    StatePending,
			}
			rs.order = append(rs.order, name)
			pos++
		}
	}
	return rs
}

// transition moves a service to a new state, enforcing the state machine.
func (rs *RunningSet) transition(name string, to ServiceState) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	svc, ok := rs.services[name]
	if !ok {
		return fmt.Errorf("unknown service: %s", name)
	}
	if err := ValidateTransition(svc.State, to); err != nil {
		return err
	}
	svc.State = to
	return nil
}

// setHandle records the runtime handle for a service.
func (rs *RunningSet) setHandle(name, containerID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if svc, ok := rs.services[name]; ok {
		svc.ContainerID = containerID
	}
}

// setErr records a service error.
func (rs *RunningSet) setErr(name string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if svc, ok := rs.services[name]; ok {
		svc.Err = err
	}
}

// State returns the current state of a service.
func (rs *RunningSet) State(name string) (ServiceState, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	svc, ok := rs.services[name]
	if !ok {
		return "", false
	}
	return svc.State, true
}

// Status returns a copy of the status record for a service.
func (rs *RunningSet) Status(name string) (ServiceStatus, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	svc, ok := rs.services[name]
	if !ok {
		return ServiceStatus{}, false
	}
	return *svc, true
}

// Order returns the linear start order.
func (rs *RunningSet) Order() []string {
	out := make([]string, len(rs.order))
	copy(out, rs.order)
	return out
}

// Ranks returns the start order ranks.
func (rs *RunningSet) Ranks() [][]string {
	out := make([][]string, len(rs.ranks))
	for i, rank := range rs.ranks {
		out[i] = make([]string, len(rank))
		copy(out[i], rank)
	}
	return out
}

// InState returns the names of all services in the given state, ordered by
// start position.
func (rs *RunningSet) InState(state ServiceState) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var names []string
	for _, svc := range rs.services {
		if svc.State == state {
			names = append(names, svc.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return rs.services[names[i]].Position < rs.services[names[j]].Position
	})
	return names
}

// Statuses returns a copy of every status record, ordered by start position.
func (rs *RunningSet) Statuses() []ServiceStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]ServiceStatus, 0, len(rs.services))
	for _, name := range rs.order {
		out = append(out, *rs.services[name])
	}
	return out
}
