package cmd

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/elsewhere-cli/elsewhere/internal/lifecycle"
	"github.com/elsewhere-cli/elsewhere/internal/tui"
	"github.com/elsewhere-cli/elsewhere/internal/tunnel"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE:  runStatus,
}

var statusWatch bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep watching until the session ends")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, store, err := newManager(cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	if statusWatch {
		model, err := tui.NewStatusModel(store, tunnel.Alive)
		if err != nil {
			return err
		}
		defer model.Close()
		_, err = tea.NewProgram(model).Run()
		return err
	}

	st, err := mgr.Status(cmd.Context())
	if errors.Is(err, lifecycle.ErrNoSession) {
		fmt.Println("No active session.")
		return nil
	}
	if err != nil {
		return err
	}

	printStatus(st)
	return nil
}
