package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/taskcore/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create taskcore configuration",
	}
	cmd.AddCommand(newConfigShowCmd(root), newConfigInitCmd(), newConfigPathCmd())
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg, "."+format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		global bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Long: `Write the default configuration. Without a path the file goes to
.taskcore/config.yaml, or ~/.taskcore/config.yaml with --global.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := initPath(args, global)
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&global, "global", "g", false, "write the global config in the home directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func initPath(args []string, global bool) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !global {
		return filepath.Join(".taskcore", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".taskcore", "config.yaml"), nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config files taskcore reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			global, project, err := config.DefaultPaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "global:  %s\n", global)
			fmt.Fprintf(out, "project: %s\n", project)
			return nil
		},
	}
}
