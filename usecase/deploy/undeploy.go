package deploy

import (
	"context"
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/domain/model"
	"github.com/kompox/kdeploy/internal/logging"
)

// UnDeployInput parameters for UnDeploy use case.
type UnDeployInput struct {
	// Target identifies the service. Service is required.
	Target kube.Target `json:"target"`
}

// UnDeployOutput result for UnDeploy use case.
type UnDeployOutput struct {
	Namespace string     `json:"namespace"`
	Deleted   []kube.Ref `json:"deleted,omitempty"`
	// StaleVolumes lists every claim left in place for manual review.
	StaleVolumes []kube.VolumeClaim `json:"staleVolumes,omitempty"`
	HistoryID    string             `json:"historyId,omitempty"`
}

// UnDeploy removes every resource owned by the service except its volume claims,
// which are reported for review. Per-resource failures do not stop the pass and are
// returned together.
func (u *UseCase) UnDeploy(ctx context.Context, in *UnDeployInput) (out *UnDeployOutput, err error) {
	if in == nil {
		return nil, fmt.Errorf("UnDeployInput is required")
	}
	if in.Target.Service == "" {
		return nil, fmt.Errorf("UnDeployInput.Target.Service is required")
	}
	hs, err := u.handlers(in.Target)
	if err != nil {
		return nil, err
	}
	target := in.Target
	target.Namespace = hs.Namespace()

	ctx, end := logging.Span(ctx, "UnDeploy", "target", target.String())
	started := time.Now()

	out = &UnDeployOutput{Namespace: hs.Namespace()}
	defer func() {
		rec := u.newRecord(target, model.OperationUndeploy, started)
		rec.Phase = string(PhaseDone)
		rec.Pruned = len(out.Deleted)
		for _, c := range out.StaleVolumes {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("volume %s: claim %s kept", c.Volume, c.Claim))
		}
		if err != nil {
			rec.Phase = string(PhaseFailed)
		}
		rec.Outcome, rec.Message = outcomeOf(err, "")
		u.record(ctx, rec)
		out.HistoryID = rec.ID
		end(err, "deleted", len(out.Deleted), "staleVolumes", len(out.StaleVolumes))
	}()

	pr := kube.PruneStale(ctx, hs, nil, target.Selector())
	out.Deleted = pr.Deleted
	vol := kube.NewVolumeGuard(hs, target).Retire(ctx)
	out.StaleVolumes = vol.Stale

	var errs []error
	errs = append(errs, pr.Errors...)
	errs = append(errs, vol.Errors...)
	return out, utilerrors.NewAggregate(errs)
}
