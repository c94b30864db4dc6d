package stack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// ParseGraph parses compose-style YAML into a Graph.
// This is a pure function - no I/O, no side effects. Env-file paths are
// recorded as-is; their contents are resolved by the shell at start time.
//
// Input: raw YAML string and the stack name.
// Output: Graph, or ParseError (malformed structure) / ReferenceError
// (dangling depends_on or named-volume reference).
func ParseGraph(yamlContent, stackName string) (*Graph, error) {
	// Input validation
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	// Structural pre-check, and extract service declaration order.
	// compose-go hands services back as a map, which loses the order the
	// document declared them in; ties between independent services are
	// broken by that order, so it has to come from the raw YAML.
	order, err := serviceDeclarationOrder(yamlContent)
	if err != nil {
		return nil, err
	}

	project, err := loadProject(yamlContent, stackName)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	graph := &Graph{
		Name:     stackName,
		Services: make([]Service, 0, len(project.Services)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	// Convert services in declaration order
	for _, name := range order {
		svc, ok := project.Services[name]
		if !ok {
			continue
		}
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		graph.Services = append(graph.Services, converted)
	}

	if err := validatePorts(graph.Services); err != nil {
		return nil, err
	}

	// Convert volumes, sorted by name for determinism
	volumeNames := make([]string, 0, len(project.Volumes))
	for name := range project.Volumes {
		volumeNames = append(volumeNames, name)
	}
	sort.Strings(volumeNames)
	for _, name := range volumeNames {
		graph.Volumes = append(graph.Volumes, convertVolume(name, project.Volumes[name]))
	}

	// Every dependency name and named-volume reference must resolve
	// within the graph, else the graph is invalid.
	if err := validateReferences(graph); err != nil {
		return nil, err
	}

	return graph, nil
}

// serviceDeclarationOrder parses the raw YAML and returns the service names
// in the order the document declares them.
func serviceDeclarationOrder(yamlContent string) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, NewParseError("", "document must be a mapping", ErrInvalidYAML)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		servicesNode := root.Content[i+1]
		if servicesNode.Kind != yaml.MappingNode {
			return nil, NewParseError("services", "services must be a mapping", ErrInvalidYAML)
		}
		var order []string
		for j := 0; j+1 < len(servicesNode.Content); j += 2 {
			order = append(order, servicesNode.Content[j].Value)
		}
		return order, nil
	}

	return nil, ErrNoServices
}

// loadProject loads the document using compose-go.
// Validation is skipped: reference checking is this package's job so that
// dangling references surface as ReferenceError, not a loader error string.
func loadProject(yamlContent, stackName string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(stackName, false)
		opts.SkipValidation = true
		opts.SkipInterpolation = false
		// In-memory input, no paths to resolve
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects features outside the launcher's scope.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}

	for _, svc := range project.Services {
		if svc.Build != nil {
			return NewParseError("services."+svc.Name+".build", "build is not supported, services run pre-built images", ErrUnsupportedFeature)
		}
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if service.Image == "" {
		return Service{}, NewParseError("services."+svc.Name, "service must have an image", ErrServiceNoImage)
	}

	// Ports
	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	// Environment
	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	// Env files, in declaration order
	for _, ef := range svc.EnvFiles {
		service.EnvFiles = append(service.EnvFiles, EnvFile{
			Path:     ef.Path,
			Required: bool(ef.Required),
		})
	}

	// Mounts
	for _, v := range svc.Volumes {
		mount := Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = MountTypeBind
		case "volume":
			mount.Type = MountTypeVolume
		case "tmpfs":
			mount.Type = MountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = MountTypeBind
			} else {
				mount.Type = MountTypeVolume
			}
		}
		service.Mounts = append(service.Mounts, mount)
	}

	// DependsOn is a set; sorted for deterministic error reporting
	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	// HealthCheck
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return service, nil
}

// convertVolume converts a compose-go volume to our Volume type.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	kind := VolumeKindNamed
	if bool(vol.External) {
		kind = VolumeKindExternal
	}
	return Volume{
		Name:   name,
		Kind:   kind,
		Driver: vol.Driver,
		Labels: vol.Labels,
	}
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// validateReferences checks that every depends_on name and every
// named-volume mount source resolves within the graph.
// All dangling references are collected before reporting.
func validateReferences(graph *Graph) error {
	known := make(map[string]bool, len(graph.Services))
	for _, svc := range graph.Services {
		known[svc.Name] = true
	}

	var refErr ReferenceError
	for _, svc := range graph.Services {
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				refErr.Refs = append(refErr.Refs, DanglingRef{
					Service: svc.Name,
					Kind:    "depends_on",
					Name:    dep,
				})
			}
		}
		for _, mount := range svc.Mounts {
			if mount.Type != MountTypeVolume {
				continue
			}
			if !graph.HasVolume(mount.Source) {
				refErr.Refs = append(refErr.Refs, DanglingRef{
					Service: svc.Name,
					Kind:    "volume",
					Name:    mount.Source,
				})
			}
		}
	}

	if len(refErr.Refs) > 0 {
		return &refErr
	}
	return nil
}
