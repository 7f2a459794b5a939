package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/config/kdeployenv"
)

func newCmdInit() *cobra.Command {
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a kdeploy project directory",
		Long: `Initialize a kdeploy project directory by creating .kdeploy/config.yml.

The default configuration records deployment history in
$KDEPLOY_DIR/kdeploy.db and waits up to 5 minutes for rollouts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, forceFlag)
		},
	}
	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Overwrite existing .kdeploy/config.yml")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, forceFlag bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	kdeployDir := filepath.Join(dir, kdeployenv.KdeployDirName)
	configPath := filepath.Join(kdeployDir, kdeployenv.ConfigFileName)

	if !forceFlag {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists (use -f to overwrite)", configPath)
		}
	}
	if err := os.MkdirAll(kdeployDir, 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", kdeployDir, err)
	}
	data, err := kdeployenv.InitialConfigYAML()
	if err != nil {
		return fmt.Errorf("generating default config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized kdeploy project in %s\n", kdeployDir)
	return nil
}
