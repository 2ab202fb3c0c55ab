package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"rtcdoctor/internal/troubleshoot"
	"rtcdoctor/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive terminal UI",
	Long:  `Launch the full-screen terminal UI to run diagnostics, watch their progress and browse stored runs.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return openTUI(cmd.Context(), false, nil)
	},
}

func openTUI(ctx context.Context, autoRun bool, configure func(*troubleshoot.Config)) error {
	p := tui.NewProgram(tui.Deps{
		Context:   ctx,
		Storage:   appInstance.Storage,
		Runner:    appInstance.Runner,
		Configure: configure,
		AutoRun:   autoRun,
	}, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
