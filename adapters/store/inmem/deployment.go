package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kompox/kdeploy/domain"
	"github.com/kompox/kdeploy/domain/model"
)

// DeploymentRepository is a thread-safe in-memory implementation.
type DeploymentRepository struct {
	mu    sync.RWMutex
	items map[string]*model.Deployment
	seq   int64
}

func NewDeploymentRepository() *DeploymentRepository {
	return &DeploymentRepository{items: make(map[string]*model.Deployment)}
}

func (r *DeploymentRepository) nextID() string {
	r.seq++
	return fmt.Sprintf("deploy-%d-%d", time.Now().UnixNano(), r.seq)
}

func clone(d *model.Deployment) *model.Deployment {
	cp := *d
	cp.Warnings = append([]string(nil), d.Warnings...)
	return &cp
}

func (r *DeploymentRepository) Create(_ context.Context, d *model.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == "" {
		d.ID = r.nextID()
	}
	if _, ok := r.items[d.ID]; ok {
		return fmt.Errorf("deployment %s already exists", d.ID)
	}
	r.items[d.ID] = clone(d)
	return nil
}

func (r *DeploymentRepository) Get(_ context.Context, id string) (*model.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	if !ok {
		return nil, model.ErrDeploymentNotFound
	}
	return clone(v), nil
}

func (r *DeploymentRepository) List(_ context.Context, f model.DeploymentFilter) ([]*model.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Deployment, 0, len(r.items))
	for _, v := range r.items {
		if f.Match(v) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *DeploymentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return model.ErrDeploymentNotFound
	}
	delete(r.items, id)
	return nil
}

var _ domain.DeploymentRepository = (*DeploymentRepository)(nil)
