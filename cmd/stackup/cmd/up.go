package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mfeldt/stackup/internal/shell/controller"
)

var (
	teardownOnFailure bool
	readyTimeout      time.Duration
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the stack",
	Long: `Load the stack file, resolve the dependency order and start every
service. Services with no unsatisfied dependencies start concurrently;
dependents wait until everything they depend on is ready.`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().BoolVar(&teardownOnFailure, "teardown-on-failure", false, "stop already-ready services when startup fails")
	upCmd.Flags().DurationVar(&readyTimeout, "timeout", 0, "per-service readiness timeout (overrides config)")
}

// applyTimeoutOverride lets the --timeout flag win over the configured
// readiness timeout.
func applyTimeoutOverride(cfg *Config) {
	if readyTimeout > 0 {
		cfg.Controller.ReadyTimeout = readyTimeout
	}
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	applyTimeoutOverride(cfg)

	graph, baseDir, err := loadGraph()
	if err != nil {
		return err
	}

	ctrl, cleanup, err := newController(cfg, logger, baseDir)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rs, err := ctrl.Up(ctx, graph, controller.UpOptions{
		TeardownOnFailure: teardownOnFailure,
	})
	if rs != nil {
		printRunningSet(rs)
	}
	return err
}

// printRunningSet renders the final state of every service.
func printRunningSet(rs *controller.RunningSet) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Service", "State", "Container", "Detail")

	for _, svc := range rs.Statuses() {
		detail := ""
		if svc.Err != nil {
			detail = svc.Err.Error()
		}
		table.Append(svc.Name, strings.ToUpper(string(svc.State)), shortHandle(svc.ContainerID), detail)
	}

	table.Render()
	fmt.Printf("\nStack: %s  Run: %s\n", rs.Stack, rs.RunID)
}

func shortHandle(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
