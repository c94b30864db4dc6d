// Package e2e provides end-to-end tests for stackup.
//
// These tests require a running Docker daemon and will create/destroy
// real containers. Run with:
//
//	go test -v -timeout 10m ./tests/e2e/...
package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfeldt/stackup/internal/core/plan"
	"github.com/mfeldt/stackup/internal/core/stack"
	"github.com/mfeldt/stackup/internal/shell/controller"
	"github.com/mfeldt/stackup/internal/shell/runtime"
	"github.com/mfeldt/stackup/internal/shell/store"
)

// =============================================================================
// Test Globals
// =============================================================================

var (
	testRuntime *runtime.DockerRuntime
	testStore   store.Store
	storeDir    string
)

const testStack = "stackup-e2e"

const lifecycleStack = `
services:
  cache:
    image: redis:7-alpine
  worker:
    image: alpine:3.20
    command: ["sleep", "300"]
    depends_on:
      - cache
`

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()
	os.Exit(result)
}

func setup() int {
	rt, err := runtime.NewDockerRuntime("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "SKIP: cannot create Docker client: %v\n", err)
		os.Exit(0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "SKIP: Docker daemon not reachable: %v\n", err)
		os.Exit(0)
	}
	testRuntime = rt

	// File-backed store: with :memory: each connection in the sqlx pool
	// gets its own empty database.
	dir, err := os.MkdirTemp("", "stackup-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: cannot create store dir: %v\n", err)
		return 1
	}
	storeDir = dir

	st, err := store.NewSQLiteStore(filepath.Join(dir, "stackup.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: cannot open store: %v\n", err)
		return 1
	}
	testStore = st
	return 0
}

func teardown() {
	// Best-effort cleanup of anything a failed test left behind.
	ctrl := newTestController()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, _ = ctrl.Down(ctx, testStack, controller.DownOptions{})

	if testStore != nil {
		testStore.Close()
	}
	if storeDir != "" {
		os.RemoveAll(storeDir)
	}
	if testRuntime != nil {
		testRuntime.Close()
	}
}

func newTestController() *controller.Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return controller.New(testRuntime, testStore, logger, controller.Options{
		ReadyTimeout: 2 * time.Minute,
		PollInterval: time.Second,
		StopTimeout:  10 * time.Second,
	})
}

func parseTestGraph(t *testing.T, yaml string) *stack.Graph {
	t.Helper()
	graph, err := stack.ParseGraph(yaml, testStack)
	require.NoError(t, err)
	return graph
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

// TestE2E_UpDownLifecycle starts a two-service stack with a dependency edge,
// verifies both containers run, then takes the stack down again.
func TestE2E_UpDownLifecycle(t *testing.T) {
	ctrl := newTestController()
	graph := parseTestGraph(t, lifecycleStack)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rs, err := ctrl.Up(ctx, graph, controller.UpOptions{})
	require.NoError(t, err)

	for _, name := range []string{"cache", "worker"} {
		state, ok := rs.State(name)
		require.True(t, ok, name)
		assert.Equal(t, controller.StateReady, state, name)
	}

	// Both containers really run and carry the identification labels.
	containers, err := testRuntime.ListContainers(ctx, runtime.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": plan.LabelStack + "=" + testStack,
		},
	})
	require.NoError(t, err)
	require.Len(t, containers, 2)
	for _, ct := range containers {
		assert.Equal(t, runtime.ContainerStatusRunning, ct.Status)
		assert.Equal(t, "true", ct.Labels[plan.LabelManaged])
	}

	report, err := ctrl.Down(ctx, testStack, controller.DownOptions{})
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Len(t, report.Stopped, 2)

	containers, err = testRuntime.ListContainers(ctx, runtime.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": plan.LabelStack + "=" + testStack,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, containers)
}

// TestE2E_FailedServiceReported starts a stack whose leaf service exits
// immediately and verifies the partial-failure report.
func TestE2E_FailedServiceReported(t *testing.T) {
	ctrl := newTestController()
	graph := parseTestGraph(t, `
services:
  crasher:
    image: alpine:3.20
    command: ["false"]
  dependent:
    image: alpine:3.20
    command: ["sleep", "300"]
    depends_on:
      - crasher
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	defer func() {
		_, _ = ctrl.Down(ctx, testStack, controller.DownOptions{})
	}()

	_, err := ctrl.Up(ctx, graph, controller.UpOptions{})
	require.Error(t, err)

	var startupErr *controller.StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, []string{"crasher"}, startupErr.Failed)
	assert.Equal(t, []string{"dependent"}, startupErr.Unstarted)
}
