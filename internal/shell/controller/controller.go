package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mfeldt/stackup/internal/core/plan"
	"github.com/mfeldt/stackup/internal/core/stack"
	"github.com/mfeldt/stackup/internal/shell/runtime"
	"github.com/mfeldt/stackup/internal/shell/store"
)

// =============================================================================
// Controller
// =============================================================================

// Options configures the lifecycle controller.
type Options struct {
	// ReadyTimeout is the per-service readiness deadline.
	ReadyTimeout time.Duration
	// PollInterval is the readiness polling interval.
	PollInterval time.Duration
	// StopTimeout is how long a container gets to stop before being killed.
	StopTimeout time.Duration
	// BaseDir resolves relative env_file paths, usually the stack file's dir.
	BaseDir string
}

// UpOptions configures one Up invocation.
type UpOptions struct {
	// TeardownOnFailure stops already-ready services when startup fails.
	// Without it, ready services are left running.
	TeardownOnFailure bool
}

// DownOptions configures one Down invocation.
type DownOptions struct {
	// Graph, when available, lets Down remove the stack's named volumes.
	Graph *stack.Graph
	// RemoveVolumes removes named (non-external) volumes after stopping.
	RemoveVolumes bool
}

// Controller starts and stops stacks against a container runtime.
// The RunningSet it returns is owned and mutated exclusively by it.
type Controller struct {
	runtime runtime.Runtime
	store   store.Store // nil disables run persistence
	logger  *slog.Logger
	opts    Options
}

// New creates a lifecycle controller.
func New(rt runtime.Runtime, st store.Store, logger *slog.Logger, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Controller{
		runtime: rt,
		store:   st,
		logger:  logger,
		opts:    opts,
	}
}

// =============================================================================
// Up
// =============================================================================

// Up starts every service of the graph in rank order: all of rank N must be
// Ready before rank N+1 starts, and services within one rank start
// concurrently. On partial failure the returned error is a StartupError
// listing ready, failed and unstarted services; already-ready services are
// left running unless opts.TeardownOnFailure is set.
//
// Cancellation through ctx moves Starting services to Stopping/Stopped
// without waiting for readiness and leaves the rest untouched.
func (c *Controller) Up(ctx context.Context, graph *stack.Graph, opts UpOptions) (*RunningSet, error) {
	ranks, err := plan.Ranks(graph)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	rankNames := make([][]string, len(ranks))
	for i, rank := range ranks {
		for _, svc := range rank {
			rankNames[i] = append(rankNames[i], svc.Name)
		}
	}
	rs := newRunningSet(runID, graph.Name, rankNames)

	c.logger.Info("starting stack",
		"stack", graph.Name,
		"run_id", runID,
		"services", len(graph.Services),
		"ranks", len(ranks),
	)

	networkName := plan.NetworkName(graph.Name)
	if err := c.ensureNetwork(ctx, graph.Name, networkName); err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	if err := c.ensureVolumes(ctx, graph); err != nil {
		return nil, err
	}

	c.pullImages(ctx, graph)

	// Existing containers for this stack are reused on restart.
	existing := c.existingByService(ctx, graph.Name)

	failed := false
	for _, rank := range ranks {
		if ctx.Err() != nil || failed {
			break
		}
		c.startRank(ctx, graph, rs, rank, networkName, existing)

		for _, svc := range rank {
			if state, _ := rs.State(svc.Name); state == StateFailed {
				failed = true
			}
		}
	}

	canceled := ctx.Err() != nil
	if canceled {
		c.cancelStartup(rs)
	}

	// Dependents of failed services (and everything after a cancel) are
	// never started.
	unstarted := rs.InState(StatePending)
	for _, name := range unstarted {
		_ = rs.transition(name, StateStopped)
	}

	c.recordRun(rs)

	if canceled {
		c.logger.Warn("startup canceled", "stack", graph.Name, "run_id", runID)
		return rs, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
	}

	if failed {
		startupErr := &StartupError{
			Ready:     rs.InState(StateReady),
			Failed:    rs.InState(StateFailed),
			Unstarted: unstarted,
			Causes:    make(map[string]error),
		}
		for _, name := range startupErr.Failed {
			if status, ok := rs.Status(name); ok {
				startupErr.Causes[name] = status.Err
			}
		}

		c.logger.Error("startup failed",
			"stack", graph.Name,
			"ready", startupErr.Ready,
			"failed", startupErr.Failed,
			"unstarted", startupErr.Unstarted,
		)

		if opts.TeardownOnFailure {
			c.teardownStarted(rs)
		}
		return rs, startupErr
	}

	c.logger.Info("stack ready", "stack", graph.Name, "run_id", runID)
	return rs, nil
}

// startRank starts every service of one rank concurrently and waits for the
// whole rank to settle before returning (the rank barrier).
func (c *Controller) startRank(ctx context.Context, graph *stack.Graph, rs *RunningSet, rank []stack.Service, networkName string, existing map[string]runtime.ContainerInfo) {
	var wg sync.WaitGroup
	for _, svc := range rank {
		wg.Add(1)
		go func(svc stack.Service) {
			defer wg.Done()
			c.startService(ctx, graph, rs, svc, networkName, existing)
		}(svc)
	}
	wg.Wait()
}

// startService drives one service from Pending to Ready or Failed.
func (c *Controller) startService(ctx context.Context, graph *stack.Graph, rs *RunningSet, svc stack.Service, networkName string, existing map[string]runtime.ContainerInfo) {
	if err := rs.transition(svc.Name, StateStarting); err != nil {
		return
	}

	fail := func(err error) {
		rs.setErr(svc.Name, err)
		_ = rs.transition(svc.Name, StateFailed)
		c.logger.Warn("service failed", "stack", graph.Name, "service", svc.Name, "error", err)
	}

	fileEnv, err := resolveEnvFiles(svc, c.opts.BaseDir)
	if err != nil {
		fail(err)
		return
	}

	containerID := ""
	if info, found := existing[svc.Name]; found {
		containerID = info.ID
		c.logger.Debug("reusing container", "service", svc.Name, "container_id", shortID(containerID))
	} else {
		p := plan.BuildContainerPlan(graph, svc, plan.BuildContainerPlanParams{
			StackName:   graph.Name,
			RunID:       rs.RunID,
			Service:     svc.Name,
			NetworkName: networkName,
			FileEnv:     fileEnv,
		})

		containerID, err = c.runtime.CreateContainer(ctx, toContainerSpec(p, c.opts.BaseDir))
		if err != nil {
			fail(fmt.Errorf("create container: %w", err))
			return
		}
		c.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))
	}
	rs.setHandle(svc.Name, containerID)

	if err := c.runtime.StartContainer(ctx, containerID); err != nil {
		if !errors.Is(err, runtime.ErrContainerAlreadyRunning) {
			fail(fmt.Errorf("start container: %w", err))
			return
		}
	}
	c.logger.Debug("started container", "service", svc.Name, "container_id", shortID(containerID))

	if err := c.waitReady(ctx, containerID); err != nil {
		if ctx.Err() != nil {
			// Cancellation is handled by the caller; the service is
			// still Starting at this point.
			return
		}
		fail(err)
		return
	}

	_ = rs.transition(svc.Name, StateReady)
	c.logger.Info("service ready", "stack", graph.Name, "service", svc.Name)
}

// waitReady polls a container until it is ready or the deadline passes.
// A container without a health check is ready when running; with one, when
// its health status reports healthy.
func (c *Controller) waitReady(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(c.opts.ReadyTimeout)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		info, err := c.runtime.InspectContainer(ctx, containerID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("inspect container: %w", err)
		}

		switch info.Status {
		case runtime.ContainerStatusRunning:
			if info.Health == "" || info.Health == "healthy" {
				return nil
			}
			if info.Health == "unhealthy" {
				return fmt.Errorf("container is unhealthy")
			}
			// "starting": keep polling
		case runtime.ContainerStatusExited, runtime.ContainerStatusDead:
			return fmt.Errorf("container exited with code %d", info.ExitCode)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for readiness after %s", c.opts.ReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancelStartup moves every Starting service to Stopped without waiting for
// readiness. Containers are stopped on a fresh context since the caller's
// context is already canceled.
func (c *Controller) cancelStartup(rs *RunningSet) {
	stopCtx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout+5*time.Second)
	defer cancel()

	for _, name := range rs.InState(StateStarting) {
		_ = rs.transition(name, StateStopping)
		if status, ok := rs.Status(name); ok && status.ContainerID != "" {
			timeout := c.opts.StopTimeout
			if err := c.runtime.StopContainer(stopCtx, status.ContainerID, &timeout); err != nil {
				c.logger.Warn("failed to stop container on cancel", "service", name, "error", err)
			}
		}
		_ = rs.transition(name, StateStopped)
	}
}

// teardownStarted stops every Ready and Failed service of a partial startup.
func (c *Controller) teardownStarted(rs *RunningSet) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*c.opts.StopTimeout)
	defer cancel()

	names := append(rs.InState(StateReady), rs.InState(StateFailed)...)
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = rs.transition(name, StateStopping)
			if status, ok := rs.Status(name); ok && status.ContainerID != "" {
				timeout := c.opts.StopTimeout
				if err := c.runtime.StopContainer(stopCtx, status.ContainerID, &timeout); err != nil {
					c.logger.Warn("teardown: failed to stop container", "service", name, "error", err)
				}
			}
			_ = rs.transition(name, StateStopped)
		}(name)
	}
	wg.Wait()
}

// =============================================================================
// Down
// =============================================================================

// Down stops a stack. The stop order is the exact reverse of the last
// successful start order: later ranks are stopped before earlier ones, and
// stops within a rank run concurrently. Stop is best-effort; every failure
// lands in the report and stopping continues.
func (c *Controller) Down(ctx context.Context, stackName string, opts DownOptions) (*StopReport, error) {
	report := &StopReport{}

	var run *store.Run
	if c.store != nil {
		var err error
		run, err = c.store.LatestRun(ctx, stackName)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if run != nil && len(run.Services) > 0 {
		c.stopRecordedRun(ctx, run, report)
	} else {
		// No recorded run: fall back to whatever carries the stack label.
		if err := c.stopLabeled(ctx, stackName, report); err != nil {
			return nil, err
		}
	}

	networkName := plan.NetworkName(stackName)
	if err := c.runtime.RemoveNetwork(ctx, networkName); err != nil {
		if !errors.Is(err, runtime.ErrNetworkNotFound) {
			c.logger.Warn("failed to remove network", "network", networkName, "error", err)
		}
	}

	if opts.RemoveVolumes && opts.Graph != nil {
		for _, vol := range opts.Graph.Volumes {
			if vol.Kind != stack.VolumeKindNamed {
				continue
			}
			name := plan.VolumeName(stackName, vol.Name)
			if err := c.runtime.RemoveVolume(ctx, name, false); err != nil {
				if !errors.Is(err, runtime.ErrVolumeNotFound) {
					c.logger.Warn("failed to remove volume", "volume", name, "error", err)
				}
			}
		}
	}

	if c.store != nil && run != nil {
		now := time.Now().UTC()
		run.Status = store.RunStatusStopped
		run.FinishedAt = &now
		for i := range run.Services {
			run.Services[i].Status = string(StateStopped)
		}
		if err := c.store.UpdateRun(ctx, run); err != nil {
			c.logger.Warn("failed to record stop", "stack", stackName, "error", err)
		}
	}

	c.logger.Info("stack stopped",
		"stack", stackName,
		"stopped", len(report.Stopped),
		"failures", len(report.Failures),
	)
	return report, nil
}

// stopRecordedRun stops the services of a recorded run in reverse rank order.
func (c *Controller) stopRecordedRun(ctx context.Context, run *store.Run, report *StopReport) {
	maxRank := 0
	byRank := make(map[int][]store.ServiceRecord)
	for _, svc := range run.Services {
		byRank[svc.Rank] = append(byRank[svc.Rank], svc)
		if svc.Rank > maxRank {
			maxRank = svc.Rank
		}
	}

	var mu sync.Mutex
	for rank := maxRank; rank >= 0; rank-- {
		var wg sync.WaitGroup
		for _, svc := range byRank[rank] {
			if svc.ContainerID == "" {
				continue
			}
			wg.Add(1)
			go func(svc store.ServiceRecord) {
				defer wg.Done()
				err := c.stopAndRemove(ctx, svc.ContainerID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failures = append(report.Failures, StopFailure{Service: svc.Name, Err: err})
				} else {
					report.Stopped = append(report.Stopped, svc.Name)
				}
			}(svc)
		}
		wg.Wait()
	}
}

// stopLabeled stops every container carrying the stack label, fully
// concurrently; without a recorded order there is nothing to sequence.
func (c *Controller) stopLabeled(ctx context.Context, stackName string, report *StopReport) error {
	containers, err := c.runtime.ListContainers(ctx, runtime.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, stackName),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ct := range containers {
		wg.Add(1)
		go func(ct runtime.ContainerInfo) {
			defer wg.Done()
			service := ct.Labels[plan.LabelService]
			if service == "" {
				service = ct.Name
			}
			err := c.stopAndRemove(ctx, ct.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, StopFailure{Service: service, Err: err})
			} else {
				report.Stopped = append(report.Stopped, service)
			}
		}(ct)
	}
	wg.Wait()
	return nil
}

// stopAndRemove stops a container, then removes it. A container that is
// already gone or already stopped counts as success.
func (c *Controller) stopAndRemove(ctx context.Context, containerID string) error {
	timeout := c.opts.StopTimeout
	if err := c.runtime.StopContainer(ctx, containerID, &timeout); err != nil {
		if !errors.Is(err, runtime.ErrContainerNotFound) && !errors.Is(err, runtime.ErrContainerNotRunning) {
			return err
		}
	}
	if err := c.runtime.RemoveContainer(ctx, containerID, runtime.RemoveOptions{Force: true}); err != nil {
		if !errors.Is(err, runtime.ErrContainerNotFound) {
			return err
		}
	}
	return nil
}

// =============================================================================
// Describe
// =============================================================================

// ServiceView is one row of a stack status listing.
type ServiceView struct {
	Service     string                `json:"service"`
	State       string                `json:"state"`
	ContainerID string                `json:"container_id,omitempty"`
	Image       string                `json:"image,omitempty"`
	Ports       []runtime.PortBinding `json:"ports,omitempty"`
}

// Describe reports the current state of a stack's services, joining the last
// recorded run with live container state.
func (c *Controller) Describe(ctx context.Context, stackName string) ([]ServiceView, error) {
	containers, err := c.runtime.ListContainers(ctx, runtime.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, stackName),
		},
	})
	if err != nil {
		return nil, err
	}

	byService := make(map[string]runtime.ContainerInfo)
	for _, ct := range containers {
		if svc := ct.Labels[plan.LabelService]; svc != "" {
			byService[svc] = ct
		}
	}

	var run *store.Run
	if c.store != nil {
		run, err = c.store.LatestRun(ctx, stackName)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var views []ServiceView
	seen := make(map[string]bool)
	if run != nil {
		for _, rec := range run.Services {
			view := ServiceView{Service: rec.Name, State: rec.Status}
			if ct, ok := byService[rec.Name]; ok {
				view.ContainerID = shortID(ct.ID)
				view.Image = ct.Image
				view.Ports = ct.Ports
				view.State = string(ct.Status)
			}
			views = append(views, view)
			seen[rec.Name] = true
		}
	}
	// Containers with no run record still show up
	for _, ct := range containers {
		svc := ct.Labels[plan.LabelService]
		if svc == "" || seen[svc] {
			continue
		}
		views = append(views, ServiceView{
			Service:     svc,
			State:       string(ct.Status),
			ContainerID: shortID(ct.ID),
			Image:       ct.Image,
			Ports:       ct.Ports,
		})
	}

	return views, nil
}

// =============================================================================
// Helpers
// =============================================================================

// ensureNetwork creates the stack network, reusing an existing one.
func (c *Controller) ensureNetwork(ctx context.Context, stackName, networkName string) error {
	_, err := c.runtime.CreateNetwork(ctx, runtime.NetworkSpec{
		Name:   networkName,
		Driver: "bridge",
		Labels: map[string]string{
			plan.LabelManaged: "true",
			plan.LabelStack:   stackName,
		},
	})
	if err != nil {
		if errors.Is(err, runtime.ErrNetworkAlreadyExists) {
			c.logger.Debug("network already exists, reusing", "network", networkName)
			return nil
		}
		return err
	}
	c.logger.Debug("created network", "network", networkName)
	return nil
}

// ensureVolumes creates every named volume of the graph. External volumes
// must already exist and are not touched.
func (c *Controller) ensureVolumes(ctx context.Context, graph *stack.Graph) error {
	for _, vol := range graph.Volumes {
		if vol.Kind == stack.VolumeKindExternal {
			continue
		}
		name := plan.VolumeName(graph.Name, vol.Name)
		if _, err := c.runtime.CreateVolume(ctx, runtime.VolumeSpec{
			Name:   name,
			Driver: vol.Driver,
			Labels: map[string]string{
				plan.LabelManaged: "true",
				plan.LabelStack:   graph.Name,
			},
		}); err != nil {
			return fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
		c.logger.Debug("created volume", "volume", name)
	}
	return nil
}

// pullImages pulls images that are not present locally. Pull failures are
// not fatal here: the create step surfaces the real error per service.
func (c *Controller) pullImages(ctx context.Context, graph *stack.Graph) {
	for _, svc := range graph.Services {
		exists, _ := c.runtime.ImageExists(ctx, svc.Image)
		if exists {
			continue
		}
		c.logger.Info("pulling image", "image", svc.Image)
		if err := c.runtime.PullImage(ctx, svc.Image, runtime.PullOptions{}); err != nil {
			c.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
		}
	}
}

// existingByService maps service names to their existing containers.
func (c *Controller) existingByService(ctx context.Context, stackName string) map[string]runtime.ContainerInfo {
	containers, _ := c.runtime.ListContainers(ctx, runtime.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, stackName),
		},
	})

	byService := make(map[string]runtime.ContainerInfo)
	for _, ct := range containers {
		if svc, ok := ct.Labels[plan.LabelService]; ok {
			byService[svc] = ct
		}
	}
	return byService
}

// recordRun persists the outcome of an Up.
func (c *Controller) recordRun(rs *RunningSet) {
	if c.store == nil {
		return
	}

	status := store.RunStatusReady
	now := time.Now().UTC()
	run := &store.Run{
		ID:        rs.RunID,
		Stack:     rs.Stack,
		StartedAt: now,
	}
	for _, svc := range rs.Statuses() {
		if svc.State != StateReady {
			status = store.RunStatusDegraded
		}
		run.Services = append(run.Services, store.ServiceRecord{
			Name:        svc.Name,
			Rank:        svc.Rank,
			Position:    svc.Position,
			ContainerID: svc.ContainerID,
			Status:      string(svc.State),
		})
	}
	run.Status = status

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.CreateRun(ctx, run); err != nil {
		c.logger.Warn("failed to record run", "stack", rs.Stack, "error", err)
	}
}

// toContainerSpec converts a pure container plan to a runtime spec.
// Relative bind mount paths are resolved against baseDir, the directory of
// the stack file.
func toContainerSpec(p plan.ContainerPlan, baseDir string) runtime.ContainerSpec {
	spec := runtime.ContainerSpec{
		Name:       p.Name,
		Image:      p.Image,
		Command:    p.Command,
		Entrypoint: p.Entrypoint,
		Env:        p.Env,
		Labels:     p.Labels,
		Networks:   p.Networks,
		RestartPolicy: runtime.RestartPolicy{
			Name:              p.RestartPolicy.Name,
			MaximumRetryCount: p.RestartPolicy.MaximumRetryCount,
		},
	}
	for _, port := range p.Ports {
		spec.Ports = append(spec.Ports, runtime.PortBinding{
			ContainerPort: port.ContainerPort,
			HostPort:      port.HostPort,
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}
	for _, m := range p.Mounts {
		source := m.Source
		if m.Type == "bind" && !filepath.IsAbs(source) {
			source = filepath.Join(baseDir, source)
		}
		spec.Mounts = append(spec.Mounts, runtime.Mount{
			Type:     m.Type,
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if p.HealthCheck != nil {
		spec.HealthCheck = &runtime.HealthCheck{
			Test:        p.HealthCheck.Test,
			Interval:    p.HealthCheck.Interval,
			Timeout:     p.HealthCheck.Timeout,
			Retries:     p.HealthCheck.Retries,
			StartPeriod: p.HealthCheck.StartPeriod,
		}
	}
	return spec
}

// shortID truncates a container ID for logging.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
