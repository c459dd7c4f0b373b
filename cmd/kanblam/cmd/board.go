package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// runBoard is the root command's default action: wire every adapter,
// load the active project's tasks, and run the orchestrator's
// bubbletea program until the user quits.
func runBoard(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	deps, err := InitOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if deps.Deps.Coprocess != nil {
			_ = deps.Deps.Coprocess.Close()
		}
	}()

	program := tea.NewProgram(deps.Model)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running task board: %w", err)
	}
	return nil
}
