package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/deepresearch/research"
)

var (
	cfgFile   string
	workspace string

	globalCfg *research.Config
)

// Execute is the entry point for the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "researcher",
		Short:         "Deep research agent that turns a topic into a cited document",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspace = wd
			}
			if cfgFile == "" {
				cfgFile = research.DefaultConfigPath(workspace)
			}
			cfg, err := research.LoadConfig(cfgFile, workspace)
			if err != nil {
				return err
			}
			globalCfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace directory")
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")

	root.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newRunsCmd(),
		newServeCmd(),
		newConfigCmd(),
	)
	return root
}
