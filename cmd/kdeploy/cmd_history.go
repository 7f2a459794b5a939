package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/domain/model"
	"github.com/kompox/kdeploy/usecase/deploy"
)

func newCmdHistory() *cobra.Command {
	var in deploy.HistoryInput
	var output string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deployments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			ctx, cleanup := withCmdRunLogger(cmd.Context(), "history", in.Application)
			defer func() { cleanup(err) }()

			uc, err := buildHistoryUseCase(cmd)
			if err != nil {
				return err
			}
			out, err := uc.History(ctx, &in)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), out.Deployments)
			}
			return printHistory(cmd.OutOrStdout(), out.Deployments)
		},
	}
	cmd.Flags().StringVar(&in.Application, "app", "", "Filter by application")
	cmd.Flags().StringVar(&in.Environment, "env", "", "Filter by environment")
	cmd.Flags().StringVar(&in.Service, "service", "", "Filter by service")
	cmd.Flags().IntVar(&in.Limit, "limit", 20, "Maximum records (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	return cmd
}

func printHistory(w io.Writer, items []*model.Deployment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTARGET\tOPERATION\tOUTCOME\tAPPLIED\tPRUNED\tWARNINGS\tDURATION")
	for _, d := range items {
		fmt.Fprintf(tw, "%s\t%s/%s/%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			d.StartedAt.Local().Format(time.DateTime), d.Application, d.Environment, d.Service,
			d.Operation, d.Outcome, d.Applied, d.Pruned, len(d.Warnings), d.Duration().Round(time.Millisecond))
	}
	return tw.Flush()
}
