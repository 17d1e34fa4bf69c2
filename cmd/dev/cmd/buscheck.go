package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// BusCheckCmd runs the built cli against real hardware: it releases the
// configured bus, checks both lines idle high and scans for devices.
func BusCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus-check",
		Short: "Check a configured bus on attached hardware",
		Long: `Run the softi2c binary built by "dev build" against a bus from a
configuration file. The bus is released with a STOP condition, both
lines are sampled and every non-reserved address is probed.

Examples:
  dev bus-check --config softi2c.yaml --bus main`,
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := cmd.Flags().GetString("binary")
			if err != nil {
				return fmt.Errorf("could not get binary flag: %w", err)
			}
			config, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %w", err)
			}
			bus, err := cmd.Flags().GetString("bus")
			if err != nil {
				return fmt.Errorf("could not get bus flag: %w", err)
			}
			if _, err := os.Stat(binary); err != nil {
				slog.Error("softi2c binary not found, run dev build first", "binary", binary)
				return fmt.Errorf("binary not available: %w", err)
			}
			common := []string{"--config", config}
			if bus != "" {
				common = append(common, "--bus", bus)
			}
			for _, step := range [][]string{{"lines", "--release"}, {"scan"}} {
				stepArgs := append(append([]string{}, common...), step...)
				slog.Info("Running bus check step", "args", stepArgs)
				run := exec.CommandContext(cmd.Context(), binary, stepArgs...)
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				if err := run.Run(); err != nil {
					slog.Error("Bus check failed", "step", step[0], "error", err)
					return fmt.Errorf("bus check step %s failed: %w", step[0], err)
				}
			}
			slog.Info("Bus check passed")
			return nil
		},
	}

	cmd.Flags().String("binary", "dist/softi2c", "Path of the softi2c binary")
	cmd.Flags().String("config", "softi2c.yaml", "Bus configuration file")
	cmd.Flags().String("bus", "", "Name of the bus to check")

	return cmd
}
