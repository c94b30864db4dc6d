package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfeldt/stackup/internal/core/stack"
	"github.com/mfeldt/stackup/internal/shell/controller"
)

var removeVolumes bool

// downCmd represents the down command
var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the stack",
	Long: `Stop every running service of the stack in the reverse of the order
it was started in. Stopping is best-effort: a service that fails to stop is
reported and the rest are stopped anyway.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
	downCmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "also remove the stack's named volumes")
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	graph, name, err := loadDownGraph()
	if err != nil {
		return err
	}

	ctrl, cleanup, err := newController(cfg, logger, filepath.Dir(stackFile))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := ctrl.Down(ctx, name, controller.DownOptions{
		Graph:         graph,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return err
	}

	for _, svc := range report.Stopped {
		fmt.Printf("Stopped %s\n", svc)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "Failed to stop %s: %v\n", f.Service, f.Err)
	}
	return nil
}

// loadDownGraph loads the stack file for down. A missing file is fine,
// running containers are found by label, but a file that exists and does not
// parse is a hard error: acting on a stack whose definition is broken would
// silently skip named-volume handling.
func loadDownGraph() (*stack.Graph, string, error) {
	name := resolveStackName()
	content, err := os.ReadFile(stackFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, name, nil
		}
		return nil, "", fmt.Errorf("failed to read stack file: %w", err)
	}

	graph, err := stack.ParseGraph(string(content), name)
	if err != nil {
		return nil, "", err
	}
	return graph, graph.Name, nil
}
