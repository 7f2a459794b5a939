package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/usecase/deploy"
)

func newCmdUndeploy() *cobra.Command {
	var tf targetFlags
	var output string

	cmd := &cobra.Command{
		Use:   "undeploy",
		Short: "Delete the resources of a service, keeping its volume claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			target := tf.target(cmd)
			ctx, cleanup := withCmdRunLogger(cmd.Context(), "undeploy", target.String())
			defer func() { cleanup(err) }()

			uc, err := buildDeployUseCase(cmd)
			if err != nil {
				return err
			}
			out, err := uc.UnDeploy(ctx, &deploy.UnDeployInput{Target: target})
			if out == nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output == "json" {
				if perr := writeJSON(w, out); perr != nil && err == nil {
					err = perr
				}
				return err
			}
			for _, r := range out.Deleted {
				fmt.Fprintf(w, "%s deleted\n", r)
			}
			for _, c := range out.StaleVolumes {
				fmt.Fprintf(w, "PersistentVolumeClaim/%s kept (volume %s, %s %s)\n", c.Claim, c.Volume, c.StorageClass, c.Size)
			}
			return err
		},
	}
	tf.register(cmd, true)
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	return cmd
}
