package rdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kompox/kdeploy/domain"
	"github.com/kompox/kdeploy/domain/model"
)

type DeploymentRepository struct{ db *gorm.DB }

func NewDeploymentRepository(db *gorm.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

func deploymentToRecord(d *model.Deployment) (*DeploymentRecord, error) {
	var warnings string
	if len(d.Warnings) > 0 {
		b, err := json.Marshal(d.Warnings)
		if err != nil {
			return nil, err
		}
		warnings = string(b)
	}
	return &DeploymentRecord{
		ID:          d.ID,
		Application: d.Application,
		Environment: d.Environment,
		Service:     d.Service,
		Namespace:   d.Namespace,
		Operation:   d.Operation,
		Phase:       d.Phase,
		Outcome:     d.Outcome,
		Message:     d.Message,
		Applied:     d.Applied,
		Unchanged:   d.Unchanged,
		Pruned:      d.Pruned,
		Warnings:    warnings,
		StartedAt:   d.StartedAt,
		FinishedAt:  d.FinishedAt,
	}, nil
}

func deploymentToModel(r *DeploymentRecord) (*model.Deployment, error) {
	var warnings []string
	if r.Warnings != "" {
		if err := json.Unmarshal([]byte(r.Warnings), &warnings); err != nil {
			return nil, err
		}
	}
	return &model.Deployment{
		ID:          r.ID,
		Application: r.Application,
		Environment: r.Environment,
		Service:     r.Service,
		Namespace:   r.Namespace,
		Operation:   r.Operation,
		Phase:       r.Phase,
		Outcome:     r.Outcome,
		Message:     r.Message,
		Applied:     r.Applied,
		Unchanged:   r.Unchanged,
		Pruned:      r.Pruned,
		Warnings:    warnings,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}, nil
}

func (r *DeploymentRepository) Create(ctx context.Context, d *model.Deployment) error {
	rec, err := deploymentToRecord(d)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = "deploy-" + uuid.NewString()
		d.ID = rec.ID
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *DeploymentRepository) Get(ctx context.Context, id string) (*model.Deployment, error) {
	var rec DeploymentRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrDeploymentNotFound
		}
		return nil, err
	}
	return deploymentToModel(&rec)
}

func (r *DeploymentRepository) List(ctx context.Context, f model.DeploymentFilter) ([]*model.Deployment, error) {
	q := r.db.WithContext(ctx).Model(&DeploymentRecord{})
	if f.Application != "" {
		q = q.Where("application = ?", f.Application)
	}
	if f.Environment != "" {
		q = q.Where("environment = ?", f.Environment)
	}
	if f.Service != "" {
		q = q.Where("service = ?", f.Service)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var recs []DeploymentRecord
	if err := q.Order("started_at DESC").Order("id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Deployment, 0, len(recs))
	for i := range recs {
		d, err := deploymentToModel(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DeploymentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&DeploymentRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrDeploymentNotFound
	}
	return nil
}

var _ domain.DeploymentRepository = (*DeploymentRepository)(nil)
