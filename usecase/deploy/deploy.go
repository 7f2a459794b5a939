package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/domain/model"
	"github.com/kompox/kdeploy/internal/logging"
)

// DeployInput parameters for Deploy use case.
type DeployInput struct {
	// Target identifies the service. Service is required.
	Target kube.Target `json:"target"`
	// Manifests is the full desired set for the service.
	Manifests []*kube.Manifest `json:"-"`
	// Wait blocks until the workload is stable after apply.
	Wait bool `json:"wait"`
	// Timeout bounds the wait. Zero uses UseCase.WaitTimeout.
	Timeout time.Duration `json:"timeout"`
	// DryRun renders the prepared manifests without touching the cluster.
	DryRun bool `json:"dryRun"`
}

// DeployOutput result for Deploy use case.
type DeployOutput struct {
	Namespace string     `json:"namespace"`
	Phase     Phase      `json:"phase"`
	Applied   []kube.Ref `json:"applied,omitempty"`
	Unchanged []kube.Ref `json:"unchanged,omitempty"`
	Pruned    []kube.Ref `json:"pruned,omitempty"`
	// Released lists claims deleted before apply.
	Released []kube.VolumeClaim `json:"released,omitempty"`
	// StaleVolumes lists claims left for manual review.
	StaleVolumes []kube.VolumeClaim `json:"staleVolumes,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	// Status is the workload status observed by the wait step, if any.
	Status  kube.ResourceStatus `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	// Rendered holds the prepared manifests for a dry run.
	Rendered  string `json:"rendered,omitempty"`
	HistoryID string `json:"historyId,omitempty"`
}

// Deploy reconciles the cluster to the desired manifests of one service.
// Apply failures abort the remaining manifests and skip the wait. Cleanup and volume
// inspection failures become warnings. The returned output is never nil when err is
// caused by the cluster, so callers can report the phase reached. A dry run needs no Client.
func (u *UseCase) Deploy(ctx context.Context, in *DeployInput) (out *DeployOutput, err error) {
	if in == nil {
		return nil, fmt.Errorf("DeployInput is required")
	}
	if in.Target.Service == "" {
		return nil, fmt.Errorf("DeployInput.Target.Service is required")
	}
	if err := in.Target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	target := in.Target
	target.Namespace = target.ResolvedNamespace()

	manifests, err := kube.PrepareManifests(u.registry(), target, in.Manifests)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare manifests: %w", err)
	}
	manifests = kube.SortManifests(u.registry(), manifests)

	out = &DeployOutput{Namespace: target.Namespace, Phase: PhaseApplying}
	if in.DryRun {
		rendered, err := kube.BuildCleanManifest(manifests)
		if err != nil {
			return nil, fmt.Errorf("failed to render manifests: %w", err)
		}
		out.Rendered = rendered
		out.Phase = PhaseDone
		return out, nil
	}
	hs, err := u.handlers(target)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).With("target", target.String())
	ctx = logging.WithLogger(ctx, logger)
	started := time.Now()
	logger.Info(ctx, "Deploy/s", "manifests", len(manifests))
	defer func() {
		rec := u.newRecord(target, model.OperationDeploy, started)
		rec.Phase = string(out.Phase)
		rec.Applied = len(out.Applied)
		rec.Unchanged = len(out.Unchanged)
		rec.Pruned = len(out.Pruned)
		rec.Warnings = out.Warnings
		rec.Outcome, rec.Message = outcomeOf(err, out.Message)
		u.record(ctx, rec)
		out.HistoryID = rec.ID
		if err != nil {
			logger.Warn(ctx, "Deploy/efail", "phase", out.Phase, "err", err)
		} else {
			logger.Info(ctx, "Deploy/eok", "applied", len(out.Applied), "unchanged", len(out.Unchanged), "pruned", len(out.Pruned), "warnings", len(out.Warnings))
		}
	}()

	if err := u.apply(ctx, hs, target, manifests, out); err != nil {
		out.Phase = PhaseFailed
		out.Message = u.captureLogs(ctx, hs, target)
		return out, err
	}

	out.Phase = PhaseCleaningUp
	u.cleanUp(ctx, hs, target, manifests, out)

	if in.Wait {
		out.Phase = PhaseWaiting
		w, err := u.WaitForDeployment(ctx, &WaitInput{Target: target, Timeout: in.Timeout})
		if w != nil {
			out.Status = w.Status
			out.Message = w.Message
		}
		if err != nil {
			out.Phase = PhaseFailed
			if logs := u.captureLogs(ctx, hs, target); logs != "" {
				out.Message = strings.TrimSpace(out.Message + "\n" + logs)
			}
			return out, err
		}
	}
	out.Phase = PhaseDone
	return out, nil
}

// apply runs the APPLYING phase.
func (u *UseCase) apply(ctx context.Context, hs *kube.HandlerSet, target kube.Target, manifests []*kube.Manifest, out *DeployOutput) error {
	logger := logging.FromContext(ctx)
	msgSym := "Deploy:Apply"
	logger.Debug(ctx, msgSym+"/s", "namespace", hs.Namespace())

	if err := u.Client.EnsureNamespace(ctx, hs.Namespace(), target.AppLabels()); err != nil {
		return fmt.Errorf("failed to ensure namespace %s: %w", hs.Namespace(), err)
	}

	vol := kube.NewVolumeGuard(hs, target).Release(ctx, manifests)
	out.Released = vol.Deleted
	for _, e := range vol.Errors {
		out.Warnings = append(out.Warnings, fmt.Sprintf("volume release: %v", e))
	}

	for _, m := range manifests {
		h, err := hs.For(m)
		if err != nil {
			return err
		}
		changed, err := h.Patch(ctx, m.Name, m)
		if err != nil {
			logger.Warn(ctx, msgSym+"/efail", "ref", m.Ref().String(), "err", err)
			return err
		}
		if changed {
			out.Applied = append(out.Applied, m.Ref())
		} else {
			out.Unchanged = append(out.Unchanged, m.Ref())
		}
	}
	logger.Debug(ctx, msgSym+"/eok", "applied", len(out.Applied), "unchanged", len(out.Unchanged))
	return nil
}

// cleanUp runs the CLEANING_UP phase. Nothing here fails the deployment.
func (u *UseCase) cleanUp(ctx context.Context, hs *kube.HandlerSet, target kube.Target, manifests []*kube.Manifest, out *DeployOutput) {
	pr := kube.PruneStale(ctx, hs, manifests, target.Selector())
	out.Pruned = pr.Deleted
	for _, e := range pr.Errors {
		out.Warnings = append(out.Warnings, fmt.Sprintf("cleanup: %v", e))
	}

	vol := kube.NewVolumeGuard(hs, target).Inspect(ctx, manifests)
	out.StaleVolumes = vol.Stale
	out.Warnings = append(out.Warnings, vol.Warnings...)
	for _, c := range vol.Stale {
		out.Warnings = append(out.Warnings, fmt.Sprintf("volume %s: claim %s is no longer used and was kept for review", c.Volume, c.Claim))
	}
	for _, e := range vol.Errors {
		out.Warnings = append(out.Warnings, fmt.Sprintf("volume inspection: %v", e))
	}
}

// maxLogPods bounds the pods whose logs are captured on failure.
const maxLogPods = 3

// captureLogs returns the log tails of the service's pods that are not ready.
// It runs after the caller's context may have been cancelled.
func (u *UseCase) captureLogs(ctx context.Context, hs *kube.HandlerSet, target kube.Target) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	logger := logging.FromContext(ctx)

	objs, err := hs.Handler(kube.KindPod).GetBySelector(ctx, target.Selector(), true)
	if err != nil {
		logger.Warn(ctx, "Deploy:CaptureLogs/efail", "err", err)
		return ""
	}
	var b strings.Builder
	n := 0
	for _, o := range objs {
		p, ok := o.(*corev1.Pod)
		if !ok || kube.IsPodReady(p) {
			continue
		}
		if n == maxLogPods {
			break
		}
		n++
		text, err := u.Client.TailPodLogs(ctx, p, kube.DefaultTailLines)
		if err != nil {
			logger.Warn(ctx, "Deploy:CaptureLogs/efail", "pod", p.Name, "err", err)
			continue
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String())
}

func (u *UseCase) newRecord(target kube.Target, op string, started time.Time) *model.Deployment {
	return &model.Deployment{
		Application: target.Application,
		Environment: target.Environment,
		Service:     target.Service,
		Namespace:   target.ResolvedNamespace(),
		Operation:   op,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
}

// outcomeOf maps an invocation error to a history outcome and message.
func outcomeOf(err error, message string) (string, string) {
	switch {
	case err == nil:
		return model.OutcomeSucceeded, message
	case errors.Is(err, ErrUnhealthy):
		return model.OutcomeUnhealthy, joinMessage(err, message)
	case errors.Is(err, ErrNotConfirmed):
		return model.OutcomeNotConfirmed, joinMessage(err, message)
	}
	return model.OutcomeFailed, joinMessage(err, message)
}

func joinMessage(err error, message string) string {
	if message == "" {
		return err.Error()
	}
	return err.Error() + "\n" + message
}
