package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// psCmd represents the ps command
var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the state of the stack's services",
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

func runPs(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctrl, cleanup, err := newController(cfg, logger, filepath.Dir(stackFile))
	if err != nil {
		return err
	}
	defer cleanup()

	views, err := ctrl.Describe(cmd.Context(), resolveStackName())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		output, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(views) == 0 {
		fmt.Println("No services found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Service", "State", "Container", "Image", "Ports")

	for _, v := range views {
		var ports []string
		for _, p := range v.Ports {
			if p.HostPort > 0 {
				ports = append(ports, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
			} else {
				ports = append(ports, fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol))
			}
		}
		table.Append(v.Service, strings.ToUpper(v.State), v.ContainerID, v.Image, strings.Join(ports, ", "))
	}

	table.Render()
	return nil
}
