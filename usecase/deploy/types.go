package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/domain"
	"github.com/kompox/kdeploy/domain/model"
	"github.com/kompox/kdeploy/internal/logging"
)

// Phase is a stage of one deployment invocation.
type Phase string

const (
	PhaseApplying   Phase = "APPLYING"
	PhaseCleaningUp Phase = "CLEANING_UP"
	PhaseWaiting    Phase = "WAITING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

var (
	// ErrNotConfirmed reports that stability could not be confirmed before the wait deadline.
	ErrNotConfirmed = errors.New("deployment not confirmed")
	// ErrUnhealthy reports a workload that failed and is no longer progressing.
	ErrUnhealthy = errors.New("deployment unhealthy")
)

// Default wait bounds.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultWaitTimeout  = 5 * time.Minute
)

// Repos holds repositories needed for deploy use cases. Every field is optional.
type Repos struct {
	Deployment domain.DeploymentRepository
}

// UseCase drives the reconciliation engine for one cluster.
type UseCase struct {
	Repos    *Repos
	Client   *kube.Client
	Registry *kube.Registry
	// PollInterval and WaitTimeout default to DefaultPollInterval and DefaultWaitTimeout.
	PollInterval time.Duration
	WaitTimeout  time.Duration
	// StatusConcurrency bounds parallel reads in Status. Zero means 4.
	StatusConcurrency int
}

// New returns a UseCase with the default registry.
func New(client *kube.Client, repos *Repos) *UseCase {
	return &UseCase{Repos: repos, Client: client, Registry: kube.NewRegistry()}
}

func (u *UseCase) registry() *kube.Registry {
	if u.Registry == nil {
		u.Registry = kube.NewRegistry()
	}
	return u.Registry
}

func (u *UseCase) pollInterval(override time.Duration) time.Duration {
	switch {
	case override > 0:
		return override
	case u.PollInterval > 0:
		return u.PollInterval
	}
	return DefaultPollInterval
}

func (u *UseCase) waitTimeout(override time.Duration) time.Duration {
	switch {
	case override > 0:
		return override
	case u.WaitTimeout > 0:
		return u.WaitTimeout
	}
	return DefaultWaitTimeout
}

// handlers validates the target and binds the registry to its namespace.
func (u *UseCase) handlers(target kube.Target) (*kube.HandlerSet, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	return u.Client.Handlers(u.registry(), target.ResolvedNamespace())
}

// record stores a history record when a repository is configured. Failures are logged only.
func (u *UseCase) record(ctx context.Context, d *model.Deployment) {
	if u.Repos == nil || u.Repos.Deployment == nil {
		return
	}
	if err := u.Repos.Deployment.Create(context.WithoutCancel(ctx), d); err != nil {
		logging.FromContext(ctx).Warn(ctx, "Deploy:Record/efail", "err", err)
	}
}
