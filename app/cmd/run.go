package cmd

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lexcodex/deepresearch/app/tui"
	"github.com/lexcodex/deepresearch/research"
)

// runOutcome carries the runner result across the TUI goroutine boundary.
type runOutcome struct {
	state *research.State
	err   error
}

func newRunCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "run [topic]",
		Short: "Research a topic and produce a cited markdown document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return executeRun(cmd, prompt, func(ctx context.Context, rt *Runtime) (*research.State, error) {
				return rt.Runner.Run(ctx, prompt)
			}, !plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable the progress UI and log to stderr only")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Continue an interrupted research run from its last completed phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			return executeRun(cmd, "", func(ctx context.Context, rt *Runtime) (*research.State, error) {
				return rt.Runner.Resume(ctx, runID)
			}, !plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable the progress UI and log to stderr only")
	return cmd
}

// executeRun drives one research run, optionally behind the live progress UI.
// The run itself decides whether it failed; a partial document is still
// reported so the user can open what was written.
func executeRun(cmd *cobra.Command, title string, start func(context.Context, *Runtime) (*research.State, error), withUI bool) error {
	rt, err := buildRuntime(globalCfg, withUI)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()

	if !withUI {
		state, err := start(ctx, rt)
		reportOutcome(cmd, state, err)
		return err
	}

	outcome := make(chan runOutcome, 1)
	go func() {
		state, err := start(ctx, rt)
		outcome <- runOutcome{state: state, err: err}
		rt.Channel.Close()
	}()

	program := tea.NewProgram(tui.New(title, rt.Channel.Events()))
	if _, err := program.Run(); err != nil {
		return err
	}
	out := <-outcome
	reportOutcome(cmd, out.state, out.err)
	return out.err
}

func reportOutcome(cmd *cobra.Command, state *research.State, err error) {
	if state == nil {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Topic:    %s\n", state.Topic())
	if state.DocumentPath != "" {
		fmt.Fprintf(w, "Document: %s\n", state.DocumentPath)
	}
	if state.NotesPath != "" {
		fmt.Fprintf(w, "Notes:    %s\n", state.NotesPath)
	}
	if err != nil {
		fmt.Fprintf(w, "Status:   incomplete (%v)\n", err)
	} else {
		fmt.Fprintln(w, "Status:   complete")
	}
}
