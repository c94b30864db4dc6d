// Package cmd implements the stackup CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mfeldt/stackup/internal/core/plan"
	"github.com/mfeldt/stackup/internal/core/stack"
	"github.com/mfeldt/stackup/internal/shell/controller"
	"github.com/mfeldt/stackup/internal/shell/runtime"
	"github.com/mfeldt/stackup/internal/shell/store"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1 // startup or runtime failure
	ExitUsage   = 2 // invalid stack file or configuration
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile      string
	stackFile    string
	stackName    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stackup",
	Short: "Declarative multi-service container launcher",
	Long: `stackup reads a declarative stack file describing services, their images,
volumes and dependencies, and starts them against the local container runtime
in dependency order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
}

// Execute runs the root command and maps errors to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var parseErr *stack.ParseError
	var refErr *stack.ReferenceError
	var cycleErr *plan.CycleError
	switch {
	case errors.As(err, &parseErr), errors.As(err, &refErr), errors.As(err, &cycleErr):
		return ExitUsage
	case errors.Is(err, stack.ErrEmptyInput), errors.Is(err, os.ErrNotExist):
		return ExitUsage
	}
	return ExitFailure
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stackup/config)")
	rootCmd.PersistentFlags().StringVarP(&stackFile, "file", "f", "stackup.yml", "path to the stack file")
	rootCmd.PersistentFlags().StringVar(&stackName, "name", "", "stack name (default derived from the stack file directory)")
}

// =============================================================================
// Shared Wiring
// =============================================================================

// loadGraph reads and parses the stack file. It returns the graph and the
// stack file's directory, which anchors relative env_file paths.
func loadGraph() (*stack.Graph, string, error) {
	content, err := os.ReadFile(stackFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read stack file: %w", err)
	}

	name := resolveStackName()
	graph, err := stack.ParseGraph(string(content), name)
	if err != nil {
		return nil, "", err
	}

	baseDir, err := filepath.Abs(filepath.Dir(stackFile))
	if err != nil {
		baseDir = filepath.Dir(stackFile)
	}
	return graph, baseDir, nil
}

var stackNameSanitizer = regexp.MustCompile(`[^a-z0-9_-]`)

// resolveStackName returns the --name flag, or a name derived from the stack
// file's directory.
func resolveStackName() string {
	if stackName != "" {
		return stackName
	}
	abs, err := filepath.Abs(stackFile)
	if err != nil {
		abs = stackFile
	}
	name := strings.ToLower(filepath.Base(filepath.Dir(abs)))
	name = stackNameSanitizer.ReplaceAllString(name, "")
	if name == "" {
		name = "default"
	}
	return name
}

// newController wires the runtime, run store and logger from config.
// The store is optional: if it cannot be opened, stackup still works but
// cannot replay the exact stop order on down.
func newController(cfg *Config, logger *slog.Logger, baseDir string) (*controller.Controller, func(), error) {
	rt, err := runtime.NewDockerRuntime(cfg.Docker.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to container runtime: %w", err)
	}

	var st store.Store
	if cfg.Database.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err == nil {
			st, err = store.NewSQLiteStore(cfg.Database.DSN)
			if err != nil {
				logger.Warn("run store unavailable, stop order will not be recorded", "error", err)
				st = nil
			}
		}
	}

	ctrl := controller.New(rt, st, logger, controller.Options{
		ReadyTimeout: cfg.Controller.ReadyTimeout,
		PollInterval: cfg.Controller.PollInterval,
		StopTimeout:  cfg.Controller.StopTimeout,
		BaseDir:      baseDir,
	})

	cleanup := func() {
		if st != nil {
			st.Close()
		}
		rt.Close()
	}
	return ctrl, cleanup, nil
}

// setup loads config and builds the logger, shared by every command.
func setup() (*Config, *slog.Logger, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, SetupLogger(cfg), nil
}
