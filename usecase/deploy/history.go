package deploy

import (
	"context"
	"fmt"

	"github.com/kompox/kdeploy/domain/model"
)

// HistoryInput filters the deployment history.
type HistoryInput struct {
	Application string `json:"application,omitempty"`
	Environment string `json:"environment,omitempty"`
	Service     string `json:"service,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// HistoryOutput lists deployment records, newest first.
type HistoryOutput struct {
	Deployments []*model.Deployment `json:"deployments"`
}

// History lists recorded deploy and undeploy invocations.
func (u *UseCase) History(ctx context.Context, in *HistoryInput) (*HistoryOutput, error) {
	if in == nil {
		in = &HistoryInput{}
	}
	if u.Repos == nil || u.Repos.Deployment == nil {
		return nil, fmt.Errorf("deployment history is not configured")
	}
	items, err := u.Repos.Deployment.List(ctx, model.DeploymentFilter{
		Application: in.Application,
		Environment: in.Environment,
		Service:     in.Service,
		Limit:       in.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return &HistoryOutput{Deployments: items}, nil
}
