package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/usecase/deploy"
)

func newCmdStatus() *cobra.Command {
	var tf targetFlags
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of one or every service of an application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			target := tf.target(cmd)
			ctx, cleanup := withCmdRunLogger(cmd.Context(), "status", target.String())
			defer func() { cleanup(err) }()

			uc, err := buildDeployUseCase(cmd)
			if err != nil {
				return err
			}
			var services []*deploy.ServiceStatusOutput
			if target.Service != "" {
				out, err := uc.ServiceStatus(ctx, &deploy.ServiceStatusInput{Target: target})
				if err != nil {
					return err
				}
				services = append(services, out)
			} else {
				out, err := uc.Status(ctx, &deploy.StatusInput{Target: target})
				if err != nil {
					return err
				}
				services = out.Services
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), services)
			}
			return printStatus(cmd.OutOrStdout(), services)
		},
	}
	tf.register(cmd, false)
	cmd.Flags().StringVar(&tf.service, "service", "", "Service name (default all services)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	return cmd
}

func printStatus(w io.Writer, services []*deploy.ServiceStatusOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tWORKLOAD\tSTATUS\tREADY\tADDRESS")
	for _, s := range services {
		workload, status := "-", "NOT DEPLOYED"
		if s.Deployed {
			workload, status = s.Workload.String(), string(s.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", s.Service, workload, status, s.ReadyReplicas, s.Replicas, s.Address)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range services {
		if s.Message != "" {
			fmt.Fprintf(w, "\n%s:\n%s\n", s.Service, s.Message)
		}
	}
	return nil
}
