package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/adapters/store/inmem"
	"github.com/kompox/kdeploy/adapters/store/rdb"
	"github.com/kompox/kdeploy/config/kdeployenv"
	"github.com/kompox/kdeploy/domain"
	"github.com/kompox/kdeploy/internal/kubeconfig"
	"github.com/kompox/kdeploy/internal/logging"
	"github.com/kompox/kdeploy/usecase/deploy"
)

var quietKlogOnce sync.Once

// buildDeploymentRepository returns the history repository selected by the environment.
func buildDeploymentRepository(env *kdeployenv.Env) (domain.DeploymentRepository, error) {
	url := env.StoreURL()
	if url == "" {
		return inmem.NewStore().DeploymentRepo, nil
	}
	db, err := rdb.OpenFromURL(url)
	if err != nil {
		return nil, err
	}
	if err := rdb.AutoMigrate(db); err != nil {
		return nil, err
	}
	return rdb.NewDeploymentRepository(db), nil
}

// buildHistoryUseCase creates a deploy use case that only needs the history repository.
func buildHistoryUseCase(cmd *cobra.Command) (*deploy.UseCase, error) {
	repo, err := buildDeploymentRepository(envFromContext(cmd.Context()))
	if err != nil {
		return nil, err
	}
	return &deploy.UseCase{Repos: &deploy.Repos{Deployment: repo}}, nil
}

// buildDeployUseCase creates the deploy use case connected to the selected cluster.
func buildDeployUseCase(cmd *cobra.Command) (*deploy.UseCase, error) {
	quietKlogOnce.Do(quietKlog)
	ctx := cmd.Context()
	env := envFromContext(ctx)

	path, _ := cmd.Flags().GetString("kubeconfig")
	kctx, _ := cmd.Flags().GetString("context")
	resolved, err := kubeconfig.Resolve(kubeconfig.Options{Path: path, Context: kctx})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug(ctx, "CMD:Kubeconfig", "context", resolved.Context, "server", resolved.Server)
	client, err := kube.NewClientFromRESTConfig(resolved.RESTConfig, &kube.Options{UserAgent: "kdeploy/" + version})
	if err != nil {
		return nil, fmt.Errorf("failed to create kube client: %w", err)
	}
	repo, err := buildDeploymentRepository(env)
	if err != nil {
		return nil, err
	}
	uc := deploy.New(client, &deploy.Repos{Deployment: repo})
	if uc.WaitTimeout, err = env.WaitTimeout(); err != nil {
		return nil, err
	}
	if uc.PollInterval, err = env.WaitInterval(); err != nil {
		return nil, err
	}
	return uc, nil
}

// targetFlags binds the service identity flags shared by commands.
type targetFlags struct {
	app     string
	env     string
	service string
}

func (f *targetFlags) register(cmd *cobra.Command, withService bool) {
	cmd.Flags().StringVar(&f.app, "app", "", "Application name")
	cmd.Flags().StringVar(&f.env, "env", "", "Environment name")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("env")
	if withService {
		cmd.Flags().StringVar(&f.service, "service", "", "Service name")
		_ = cmd.MarkFlagRequired("service")
	}
}

func (f *targetFlags) target(cmd *cobra.Command) kube.Target {
	ns, _ := cmd.Flags().GetString("namespace")
	return kube.Target{Namespace: ns, Application: f.app, Environment: f.env, Service: f.service}
}
