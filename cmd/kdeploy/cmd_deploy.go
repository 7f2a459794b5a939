package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/usecase/deploy"
)

// readManifests decodes every file, "-" meaning stdin, into one manifest list.
func readManifests(cmd *cobra.Command, files []string) ([]*kube.Manifest, error) {
	var out []*kube.Manifest
	for _, f := range files {
		var data []byte
		var err error
		if f == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(f)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		ms, err := kube.DecodeManifests(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		out = append(out, ms...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no manifests found in %v", files)
	}
	return out, nil
}

func newCmdDeploy() *cobra.Command {
	var tf targetFlags
	var files []string
	var wait, dryRun bool
	var timeout time.Duration
	var output string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Apply the manifests of a service and prune what they no longer declare",
		Long: `Apply the manifests of a service and prune what they no longer declare.

Resources are applied in kind order with a merge patch computed from the
last applied configuration. Resources of the service that are absent from the
manifests are deleted afterwards. Persistent volume claims are never deleted
by pruning; unused claims are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			target := tf.target(cmd)
			ctx, cleanup := withCmdRunLogger(cmd.Context(), "deploy", target.String())
			defer func() { cleanup(err) }()

			manifests, err := readManifests(cmd, files)
			if err != nil {
				return err
			}
			var uc *deploy.UseCase
			if dryRun {
				// Rendering needs no cluster connection.
				uc = &deploy.UseCase{}
			} else if uc, err = buildDeployUseCase(cmd); err != nil {
				return err
			}
			out, err := uc.Deploy(ctx, &deploy.DeployInput{Target: target, Manifests: manifests, Wait: wait, Timeout: timeout, DryRun: dryRun})
			if out != nil {
				if perr := printDeployOutput(cmd.OutOrStdout(), output, out); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	tf.register(cmd, true)
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Manifest file (YAML or JSON, multi-document). Repeatable; - reads stdin")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the workload is stable")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait timeout (default from config or 5m)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the prepared manifests without applying them")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printDeployOutput(w io.Writer, format string, out *deploy.DeployOutput) error {
	if format == "json" {
		return writeJSON(w, out)
	}
	if out.Rendered != "" {
		_, err := io.WriteString(w, out.Rendered)
		return err
	}
	for _, r := range out.Applied {
		fmt.Fprintf(w, "%s applied\n", r)
	}
	for _, r := range out.Unchanged {
		fmt.Fprintf(w, "%s unchanged\n", r)
	}
	for _, r := range out.Pruned {
		fmt.Fprintf(w, "%s pruned\n", r)
	}
	for _, c := range out.Released {
		fmt.Fprintf(w, "PersistentVolumeClaim/%s released\n", c.Claim)
	}
	for _, s := range out.Warnings {
		fmt.Fprintf(w, "WARN %s\n", s)
	}
	status := string(out.Phase)
	if out.Status != "" {
		status += " " + string(out.Status)
	}
	fmt.Fprintf(w, "namespace=%s phase=%s\n", out.Namespace, status)
	if out.Message != "" {
		fmt.Fprintln(w, out.Message)
	}
	return nil
}
