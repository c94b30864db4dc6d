package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidStack = `
services:
  app:
    image: nginx:latest
`

const multiServiceStack = `
services:
  proxy:
    image: nginx:latest
    ports:
      - "80:80"
    depends_on:
      - backend
      - frontend

  frontend:
    image: myapp-ui:1.0

  backend:
    image: myapp:1.0
    environment:
      DB_HOST: db
    depends_on:
      - db

  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

const envFileStack = `
services:
  api:
    image: myapp:1.0
    env_file:
      - ./base.env
      - path: ./override.env
        required: false
    environment:
      LOG_LEVEL: debug
`

const danglingDependsStack = `
services:
  web:
    image: nginx:latest
    depends_on:
      - missing
`

const danglingVolumeStack = `
services:
  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data
`

const externalVolumeStack = `
services:
  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
    external: true
`

const healthCheckStack = `
services:
  web:
    image: nginx:latest
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost"]
      interval: 30s
      timeout: 10s
      retries: 3
      start_period: 5s
`

const buildStack = `
services:
  app:
    build:
      context: ./app
`

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParseGraph_EmptyInput(t *testing.T) {
	_, err := ParseGraph("", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseGraph_WhitespaceOnly(t *testing.T) {
	_, err := ParseGraph("   \n\t  ", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseGraph_InvalidYAML(t *testing.T) {
	_, err := ParseGraph("invalid: yaml: content: [", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseGraph_InvalidYAMLIsParseError(t *testing.T) {
	_, err := ParseGraph("invalid: yaml: content: [", "test")
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseGraph_NoServicesKey(t *testing.T) {
	_, err := ParseGraph("volumes:\n  data:\n", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestParseGraph_EmptyServices(t *testing.T) {
	_, err := ParseGraph("services: {}", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}

// =============================================================================
// Service Parsing Tests
// =============================================================================

func TestParseGraph_MinimalValid(t *testing.T) {
	graph, err := ParseGraph(minimalValidStack, "test")
	require.NoError(t, err)
	require.NotNil(t, graph)

	assert.Equal(t, "test", graph.Name)
	require.Len(t, graph.Services, 1)
	assert.Equal(t, "app", graph.Services[0].Name)
	assert.Equal(t, "nginx:latest", graph.Services[0].Image)
}

func TestParseGraph_ServiceWithoutImage(t *testing.T) {
	yaml := `
services:
  app:
    environment:
      FOO: bar
`
	_, err := ParseGraph(yaml, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNoImage)
}

func TestParseGraph_DeclarationOrderPreserved(t *testing.T) {
	graph, err := ParseGraph(multiServiceStack, "test")
	require.NoError(t, err)
	require.Len(t, graph.Services, 4)

	// Services come back in the order the document declares them, not
	// alphabetically.
	names := make([]string, 0, 4)
	for _, svc := range graph.Services {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"proxy", "frontend", "backend", "db"}, names)
}

func TestParseGraph_DependsOnSorted(t *testing.T) {
	graph, err := ParseGraph(multiServiceStack, "test")
	require.NoError(t, err)

	proxy, ok := graph.Service("proxy")
	require.True(t, ok)
	assert.Equal(t, []string{"backend", "frontend"}, proxy.DependsOn)
}

func TestParseGraph_Environment(t *testing.T) {
	graph, err := ParseGraph(multiServiceStack, "test")
	require.NoError(t, err)

	backend, ok := graph.Service("backend")
	require.True(t, ok)
	assert.Equal(t, "db", backend.Environment["DB_HOST"])
}

func TestParseGraph_Ports(t *testing.T) {
	graph, err := ParseGraph(multiServiceStack, "test")
	require.NoError(t, err)

	proxy, ok := graph.Service("proxy")
	require.True(t, ok)
	require.Len(t, proxy.Ports, 1)
	assert.Equal(t, uint32(80), proxy.Ports[0].Target)
	assert.Equal(t, uint32(80), proxy.Ports[0].Published)
}

func TestParseGraph_PortZeroTarget(t *testing.T) {
	yaml := `
services:
  web:
    image: nginx:latest
    ports:
      - target: 0
        published: 8080
`
	_, err := ParseGraph(yaml, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
}

func TestParseGraph_EnvFilesInOrder(t *testing.T) {
	graph, err := ParseGraph(envFileStack, "test")
	require.NoError(t, err)

	api, ok := graph.Service("api")
	require.True(t, ok)
	require.Len(t, api.EnvFiles, 2)

	// Declaration order is preserved: later files override earlier ones
	// when the shell merges them.
	assert.Equal(t, "./base.env", api.EnvFiles[0].Path)
	assert.True(t, api.EnvFiles[0].Required)
	assert.Equal(t, "./override.env", api.EnvFiles[1].Path)
	assert.False(t, api.EnvFiles[1].Required)

	// Inline environment is kept separate from file references.
	assert.Equal(t, "debug", api.Environment["LOG_LEVEL"])
}

func TestParseGraph_HealthCheck(t *testing.T) {
	graph, err := ParseGraph(healthCheckStack, "test")
	require.NoError(t, err)

	web, ok := graph.Service("web")
	require.True(t, ok)
	require.NotNil(t, web.HealthCheck)
	assert.Equal(t, []string{"CMD", "curl", "-f", "http://localhost"}, web.HealthCheck.Test)
	assert.Equal(t, 3, web.HealthCheck.Retries)
}

func TestParseGraph_BuildUnsupported(t *testing.T) {
	_, err := ParseGraph(buildStack, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

// =============================================================================
// Volume Parsing Tests
// =============================================================================

func TestParseGraph_NamedVolume(t *testing.T) {
	graph, err := ParseGraph(multiServiceStack, "test")
	require.NoError(t, err)

	require.Len(t, graph.Volumes, 1)
	assert.Equal(t, "pgdata", graph.Volumes[0].Name)
	assert.Equal(t, VolumeKindNamed, graph.Volumes[0].Kind)

	db, ok := graph.Service("db")
	require.True(t, ok)
	require.Len(t, db.Mounts, 1)
	assert.Equal(t, MountTypeVolume, db.Mounts[0].Type)
	assert.Equal(t, "pgdata", db.Mounts[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", db.Mounts[0].Target)
}

func TestParseGraph_ExternalVolume(t *testing.T) {
	graph, err := ParseGraph(externalVolumeStack, "test")
	require.NoError(t, err)

	require.Len(t, graph.Volumes, 1)
	assert.Equal(t, VolumeKindExternal, graph.Volumes[0].Kind)
}

func TestParseGraph_BindMount(t *testing.T) {
	yaml := `
services:
  web:
    image: nginx:latest
    volumes:
      - ./html:/usr/share/nginx/html:ro
`
	graph, err := ParseGraph(yaml, "test")
	require.NoError(t, err)

	web, ok := graph.Service("web")
	require.True(t, ok)
	require.Len(t, web.Mounts, 1)
	assert.Equal(t, MountTypeBind, web.Mounts[0].Type)
	assert.True(t, web.Mounts[0].ReadOnly)
}

// =============================================================================
// Reference Validation Tests
// =============================================================================

func TestParseGraph_DanglingDependsOn(t *testing.T) {
	_, err := ParseGraph(danglingDependsStack, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	require.Len(t, refErr.Refs, 1)
	assert.Equal(t, "web", refErr.Refs[0].Service)
	assert.Equal(t, "depends_on", refErr.Refs[0].Kind)
	assert.Equal(t, "missing", refErr.Refs[0].Name)
}

func TestParseGraph_DanglingVolume(t *testing.T) {
	_, err := ParseGraph(danglingVolumeStack, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVolume)

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, []string{"pgdata"}, refErr.Missing())
}

func TestParseGraph_AllDanglingRefsCollected(t *testing.T) {
	yaml := `
services:
  a:
    image: nginx:latest
    depends_on:
      - ghost1
  b:
    image: nginx:latest
    depends_on:
      - ghost2
    volumes:
      - ghostvol:/data
`
	_, err := ParseGraph(yaml, "test")
	require.Error(t, err)

	// Every dangling reference is reported at once, not just the first.
	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Len(t, refErr.Refs, 3)
	assert.ElementsMatch(t, []string{"ghost1", "ghost2", "ghostvol"}, refErr.Missing())
}

func TestParseGraph_SelfDependencyIsValidReference(t *testing.T) {
	yaml := `
services:
  a:
    image: nginx:latest
    depends_on:
      - a
`
	// A self-dependency resolves as a reference; it is rejected later as a
	// cycle when the start order is computed.
	graph, err := ParseGraph(yaml, "test")
	require.NoError(t, err)
	require.Len(t, graph.Services, 1)
	assert.Equal(t, []string{"a"}, graph.Services[0].DependsOn)
}
