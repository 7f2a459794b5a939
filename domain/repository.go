package domain

import (
	"context"

	"github.com/kompox/kdeploy/domain/model"
)

// DeploymentRepository stores and retrieves deployment history records.
type DeploymentRepository interface {
	Create(ctx context.Context, d *model.Deployment) error
	Get(ctx context.Context, id string) (*model.Deployment, error)
	// List returns matching records, newest first.
	List(ctx context.Context, filter model.DeploymentFilter) ([]*model.Deployment, error)
	Delete(ctx context.Context, id string) error
}
