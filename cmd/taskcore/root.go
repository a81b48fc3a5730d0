package main

import (
	"github.com/spf13/cobra"

	"github.com/aristath/taskcore/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskcore",
		Short: "Dependency-aware task orchestration",
		Long: `taskcore runs a plan of tasks in dependency order. Each cycle promotes
tasks whose dependencies are done, ranks them by priority, reserves
resources, and executes them on a bounded worker pool. Outcomes feed back
into priorities, and failures carrying a reroute condition are sent back
for remediation.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: ~/.taskcore/config.yaml merged with .taskcore/config.yaml)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(),
		newConfigCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// loadConfig reads the explicit config file when one is given, and the
// conventional global and project files otherwise.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	return config.LoadDefault()
}
