package plan

import (
	"time"

	"github.com/mfeldt/stackup/internal/core/stack"
)

// =============================================================================
// Container Planning
// =============================================================================

// BuildContainerPlan builds the container plan for one service.
// Pure function: env files have already been read by the shell and arrive
// as params.FileEnv. Inline service environment overrides file values,
// matching env_file precedence in the compose ecosystem.
func BuildContainerPlan(g *stack.Graph, svc stack.Service, params BuildContainerPlanParams) ContainerPlan {
	p := ContainerPlan{
		Name:       ContainerName(params.StackName, svc.Name),
		Service:    svc.Name,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels: map[string]string{
			LabelManaged: "true",
			LabelStack:   params.StackName,
			LabelService: svc.Name,
			LabelRun:     params.RunID,
		},
		Networks: []string{params.NetworkName},
	}

	// Environment: env files first, inline values override
	for k, v := range params.FileEnv {
		p.Env[k] = v
	}
	for k, v := range svc.Environment {
		p.Env[k] = v
	}

	// Port bindings
	for _, port := range svc.Ports {
		p.Ports = append(p.Ports, PortPlan{
			ContainerPort: int(port.Target),
			HostPort:      int(port.Published),
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}

	// Mounts, with named volumes resolved to stack-prefixed runtime names
	for _, m := range svc.Mounts {
		source := m.Source
		if m.Type == stack.MountTypeVolume {
			source = VolumeName(params.StackName, m.Source)
			// External volumes keep their declared name
			for _, vol := range g.Volumes {
				if vol.Name == m.Source && vol.Kind == stack.VolumeKindExternal {
					source = m.Source
					break
				}
			}
		}
		p.Mounts = append(p.Mounts, MountPlan{
			Type:     string(m.Type),
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	// Health check
	if svc.HealthCheck != nil {
		p.HealthCheck = &HealthCheckPlan{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
			p.HealthCheck.Interval = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
			p.HealthCheck.Timeout = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
			p.HealthCheck.StartPeriod = d
		}
	}

	// Service labels never override stackup identification labels
	for k, v := range svc.Labels {
		if _, reserved := p.Labels[k]; !reserved {
			p.Labels[k] = v
		}
	}

	// Restart policy
	switch svc.Restart {
	case stack.RestartAlways:
		p.RestartPolicy = RestartPolicyPlan{Name: "always"}
	case stack.RestartOnFailure:
		p.RestartPolicy = RestartPolicyPlan{Name: "on-failure"}
	case stack.RestartUnlessStopped:
		p.RestartPolicy = RestartPolicyPlan{Name: "unless-stopped"}
	default:
		p.RestartPolicy = RestartPolicyPlan{Name: "no"}
	}

	return p
}
