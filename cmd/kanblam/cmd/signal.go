package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/hooksignal"
)

var (
	signalSessionID  string
	signalProjectDir string
	signalType       string
	signalMessage    string
)

var signalEventByName = map[string]core.HookEventType{
	"stopped":        core.HookStopped,
	"needs-input":    core.HookNeedsInput,
	"input-provided": core.HookInputGiven,
	"session-ended":  core.HookSessionEnded,
}

// signalCmd is the process an agent CLI hook invokes to report an
// event back to the orchestrator (spec.md §6): it drops a signal file
// into the signals directory and exits, so it must do no more work
// than hooksignal.WriteSignal itself performs.
var signalCmd = &cobra.Command{
	Use:   "signal <event> <task-id>",
	Short: "Report a hook event to a running kanblam board",
	Long: `signal is invoked by an agent CLI's hook configuration, not by a
human. It writes a signal file into the signals directory for the
running board's hook bus to pick up.

Valid events: stopped, needs-input, input-provided, session-ended.`,
	Args: cobra.ExactArgs(2),
	RunE: runSignal,
}

func init() {
	signalCmd.Flags().StringVar(&signalSessionID, "session-id", "", "co-process or hook session id")
	signalCmd.Flags().StringVar(&signalProjectDir, "project-dir", "", "worktree directory the hook fired in (default: current directory)")
	signalCmd.Flags().StringVar(&signalType, "type", "", "event subtype, e.g. the Claude Code notification type")
	signalCmd.Flags().StringVar(&signalMessage, "message", "", "human-readable message to surface on the board")
	rootCmd.AddCommand(signalCmd)
}

func runSignal(_ *cobra.Command, args []string) error {
	eventName, taskID := args[0], args[1]
	event, ok := signalEventByName[eventName]
	if !ok {
		return fmt.Errorf("unknown event %q (want one of: stopped, needs-input, input-provided, session-ended)", eventName)
	}

	projectDir := signalProjectDir
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving project directory: %w", err)
		}
		projectDir = cwd
	}

	signalsDir, err := resolveSignalsDir()
	if err != nil {
		return err
	}

	if _, err := hooksignal.WriteSignal(signalsDir, event, signalSessionID, projectDir, taskID, signalType, signalMessage); err != nil {
		return fmt.Errorf("writing signal: %w", err)
	}
	return nil
}
