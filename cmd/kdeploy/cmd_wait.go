package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/usecase/deploy"
)

func newCmdWait() *cobra.Command {
	var tf targetFlags
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the workload of a service is stable",
		Long: `Wait until the workload of a service is stable.

Exits 2 when stability could not be confirmed before the timeout and 3 when the
workload failed and is no longer progressing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			target := tf.target(cmd)
			ctx, cleanup := withCmdRunLogger(cmd.Context(), "wait", target.String())
			defer func() { cleanup(err) }()

			uc, err := buildDeployUseCase(cmd)
			if err != nil {
				return err
			}
			out, err := uc.WaitForDeployment(ctx, &deploy.WaitInput{Target: target, Timeout: timeout})
			if out != nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s %s %d/%d ready\n", describeWorkload(out), out.Status, out.Ready, out.Desired)
				if out.Message != "" {
					fmt.Fprintln(w, out.Message)
				}
			}
			return err
		},
	}
	tf.register(cmd, true)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait timeout (default from config or 5m)")
	return cmd
}

func describeWorkload(out *deploy.WaitOutput) string {
	if out.Parent.Name == "" {
		return "(no workload)"
	}
	return out.Parent.String()
}
