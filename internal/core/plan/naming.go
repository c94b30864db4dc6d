package plan

import "strings"

// =============================================================================
// Resource Naming
// =============================================================================

// namePrefix marks every Docker resource the launcher owns, so `down`
// can find them by name and unrelated resources are never touched.
const namePrefix = "stackup"

func scopedName(parts ...string) string {
	return strings.Join(append([]string{namePrefix}, parts...), "_")
}

// NetworkName returns the stack's network name: stackup_{stack}.
func NetworkName(stackName string) string {
	return scopedName(stackName)
}

// VolumeName returns the runtime name of a named volume:
// stackup_{stack}_{volume}.
func VolumeName(stackName, volumeName string) string {
	return scopedName(stackName, volumeName)
}

// ContainerName returns a service's container name:
// stackup_{stack}_{service}.
func ContainerName(stackName, serviceName string) string {
	return scopedName(stackName, serviceName)
}
