package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elsewhere-cli/elsewhere/internal/lifecycle"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Tear down the active session",
	Long: `Stop tears the active session down in order: system proxy, tunnel,
instance, firewall, key material, local key file. The state record is
removed only once every resource is confirmed gone.

Without --force, teardown halts at the first failure; with it, teardown
continues past failures and reports what remains. Either way the record
is retained with a residual list when anything is left behind, so a
later "elsewhere cleanup" knows what to retry.`,
	RunE: runStop,
}

var stopForce bool

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "continue teardown past individual failures")
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, _, err := newManager(cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	results, err := mgr.Stop(cmd.Context(), stopForce)
	if errors.Is(err, lifecycle.ErrNoSession) {
		fmt.Println("No active session.")
		return nil
	}

	printResults(results)
	return err
}
