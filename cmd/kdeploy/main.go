package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/config/kdeployenv"
	"github.com/kompox/kdeploy/internal/logging"
)

// cliEnv is the resolved project environment shared by subcommands.
type cliEnv struct {
	env     *kdeployenv.Env
	logFile *logging.LogFile
}

type cliEnvKey struct{}

func envFromContext(ctx context.Context) *kdeployenv.Env {
	if v, ok := ctx.Value(cliEnvKey{}).(*cliEnv); ok && v.env != nil {
		return v.env
	}
	return &kdeployenv.Env{}
}

// skipEnv lists commands that run without resolving the project environment.
var skipEnv = map[string]bool{"init": true, "version": true, "help": true}

func newRootCmd() *cobra.Command {
	state := &cliEnv{}
	cmd := &cobra.Command{
		Use:     "kdeploy",
		Short:   "Kubernetes service deployment CLI",
		Long:    "kdeploy reconciles Kubernetes resources of one service to a desired manifest set and tracks rollout status.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help by default when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("kdeploy-root", os.Getenv(kdeployenv.KdeployRootEnvKey), "Project directory (env KDEPLOY_ROOT)")
	pf.String("kdeploy-dir", os.Getenv(kdeployenv.KdeployDirEnvKey), "Configuration directory (env KDEPLOY_DIR) (default $KDEPLOY_ROOT/.kdeploy)")
	pf.String("kubeconfig", "", "Path to kubeconfig (default $KUBECONFIG or ~/.kube/config)")
	pf.String("context", "", "Kubeconfig context to use")
	pf.StringP("namespace", "n", "", "Target namespace (default <app>-<env>)")
	pf.String("db-url", "", "Deployment history database URL (env KDEPLOY_DB_URL) (sqlite:/path/to.db)")
	pf.String("log-format", "", "Log format (human|text|json) (env KDEPLOY_LOG_FORMAT)")
	pf.String("log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	pf.String("log-output", "-", "Log output: - for stderr, none, or a file path relative to the log directory (empty generates one)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		env := &kdeployenv.Env{}
		if !skipEnv[c.Name()] {
			root, _ := c.Flags().GetString("kdeploy-root")
			dir, _ := c.Flags().GetString("kdeploy-dir")
			workDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			if env, err = kdeployenv.Resolve(root, dir, workDir); err != nil {
				return err
			}
		}
		env.ApplyEnv(os.Getenv)
		if v, _ := c.Flags().GetString("db-url"); v != "" { // flag overrides env
			env.Store.Type = kdeployenv.StoreRDB
			env.Store.URL = v
		}
		state.env = env

		l, err := newLogger(c, env, state)
		if err != nil {
			return err
		}
		ctx := context.WithValue(c.Context(), cliEnvKey{}, state)
		ctx = logging.WithLogger(ctx, l.With("runId", uuid.NewString()))
		c.SetContext(ctx)
		return nil
	}
	cmd.PersistentPostRunE = func(c *cobra.Command, _ []string) error {
		if state.logFile != nil {
			return state.logFile.Close()
		}
		return nil
	}

	cmd.AddCommand(newCmdVersion())
	cmd.AddCommand(newCmdInit())
	cmd.AddCommand(newCmdDeploy())
	cmd.AddCommand(newCmdWait())
	cmd.AddCommand(newCmdUndeploy())
	cmd.AddCommand(newCmdStatus())
	cmd.AddCommand(newCmdHistory())
	return cmd
}

// newLogger builds the command logger from flags, then the config file, then defaults.
func newLogger(c *cobra.Command, env *kdeployenv.Env, state *cliEnv) (logging.Logger, error) {
	format, _ := c.Flags().GetString("log-format")
	if format == "" {
		format = env.Logging.Format
	}
	levelName, _ := c.Flags().GetString("log-level")
	if levelName == "" {
		levelName = env.Logging.Level
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	output, _ := c.Flags().GetString("log-output")
	if output == "-" {
		return logging.New(format, level)
	}
	dir := env.ExpandVars(env.Logging.Dir)
	if dir == "" && env.KdeployDir != "" {
		dir = filepath.Join(env.KdeployDir, "logs")
	}
	lf, err := logging.NewLogFile(&logging.LogConfig{Output: output, Dir: dir, RetentionDays: env.Logging.RetentionDays})
	if err != nil {
		return nil, err
	}
	state.logFile = lf
	if format == "" {
		format = "json"
	}
	return logging.NewWithWriter(format, level, lf.Writer())
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	executed, err := root.ExecuteC()
	if err != nil {
		ctx := root.Context()
		if executed != nil {
			ctx = executed.Context()
		}
		logging.FromContext(ctx).Errorf(ctx, "Failed: %s", err)
		os.Exit(exitCode(err))
	}
}
