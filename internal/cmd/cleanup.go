package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elsewhere-cli/elsewhere/internal/region"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim everything this tool ever created",
	Long: `Cleanup reconciles recorded state against provider reality. Any
recorded session re-enters teardown from the top; then every region is
swept for tagged resources with no local record at all, the leftovers
of a lost state file. Both passes are safe to re-run.

With --region only that region is swept, which is much faster when you
know where the session lived.`,
	RunE: runCleanup,
}

var cleanupRegion string

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVarP(&cleanupRegion, "region", "r", "", "sweep only this region")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cleanupRegion != "" && !region.Valid(cleanupRegion) {
		return fmt.Errorf("unknown region %q (see \"elsewhere regions\")", cleanupRegion)
	}

	mgr, _, err := newManager(cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	report, err := mgr.Cleanup(cmd.Context(), cleanupRegion)
	if report != nil {
		if report.Empty() {
			fmt.Println("Nothing to reclaim.")
		} else {
			printResults(report.Results)
		}
	}
	return err
}
