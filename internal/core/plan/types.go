package plan

import (
	"time"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Service       string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Mounts        []MountPlan
	Networks      []string
	RestartPolicy RestartPolicyPlan
	HealthCheck   *HealthCheckPlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// MountPlan represents a planned volume mount. Named volume sources are
// already resolved to their stack-prefixed runtime names.
type MountPlan struct {
	Type     string // "bind", "volume" or "tmpfs"
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// HealthCheckPlan represents a health check configuration.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	StackName   string
	RunID       string
	Service     string
	NetworkName string

	// FileEnv is the merged environment read from the service's env files,
	// in declaration order. Inline service environment takes precedence.
	FileEnv map[string]string
}

// =============================================================================
// Stackup Container Labels
// =============================================================================

// Label keys used for stackup container identification.
const (
	LabelManaged = "com.stackup.managed"
	LabelStack   = "com.stackup.stack"
	LabelService = "com.stackup.service"
	LabelRun     = "com.stackup.run"
)
