package stack

// =============================================================================
// Graph - Main Output Type
// =============================================================================

// Graph is a fully parsed, reference-checked deployment graph.
// It is built once at load time from static input and never mutated.
type Graph struct {
	// Name is the stack (project) name, used to namespace runtime resources.
	Name string `json:"name"`

	// Services in declaration order. Order is significant: it breaks ties
	// between services with no dependency relationship.
	Services []Service `json:"services"`

	// Volumes are the named volumes declared at the top level.
	Volumes []Volume `json:"volumes,omitempty"`
}

// Service returns the service with the given name.
func (g *Graph) Service(name string) (Service, bool) {
	for _, svc := range g.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// HasVolume reports whether a named volume is declared in the graph.
func (g *Graph) HasVolume(name string) bool {
	for _, vol := range g.Volumes {
		if vol.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	EnvFiles    []EnvFile         `json:"env_files,omitempty"`
	Mounts      []Mount           `json:"mounts,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// EnvFile is a reference to an environment file on the host.
// The file is read by the shell at start time, not at parse time.
type EnvFile struct {
	Path     string `json:"path"`
	Required bool   `json:"required"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// Mount represents a volume mount in a service.
type Mount struct {
	Type     MountType `json:"type"`     // bind, volume, tmpfs
	Source   string    `json:"source"`   // Host path or named volume
	Target   string    `json:"target"`   // Container path
	ReadOnly bool      `json:"readonly"`
}

// MountType represents the backing kind of a mount.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod string   `json:"start_period,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// VolumeKind is the backing kind of a named volume.
type VolumeKind string

const (
	// VolumeKindNamed is a runtime-managed named volume, created on first up.
	VolumeKindNamed VolumeKind = "named"
	// VolumeKindExternal is a pre-existing volume the runtime must not create.
	VolumeKindExternal VolumeKind = "external"
)

// Volume represents a named volume declaration.
type Volume struct {
	Name   string            `json:"name"`
	Kind   VolumeKind        `json:"kind"`
	Driver string            `json:"driver,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}
