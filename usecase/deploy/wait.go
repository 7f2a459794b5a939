package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/internal/logging"
)

// WaitInput parameters for WaitForDeployment use case.
type WaitInput struct {
	Target kube.Target `json:"target"`
	// Timeout bounds the wait. Zero uses UseCase.WaitTimeout.
	Timeout time.Duration `json:"timeout"`
	// PollInterval overrides UseCase.PollInterval.
	PollInterval time.Duration `json:"pollInterval"`
}

// WaitOutput result for WaitForDeployment use case.
type WaitOutput struct {
	Status kube.ResourceStatus `json:"status"`
	// Parent is the workload controller observed last. Empty when the service has none.
	Parent  kube.Ref `json:"parent"`
	Desired int32    `json:"desired"`
	Ready   int32    `json:"ready"`
	Message string   `json:"message,omitempty"`
}

// WaitForDeployment polls the service's workload controller until it is STABLE.
// A FAILED workload that is no longer progressing yields ErrUnhealthy. Reaching the
// timeout, or a PAUSED rollout that cannot progress, yields ErrNotConfirmed. A service
// without a workload controller has nothing to wait for and is reported STABLE.
func (u *UseCase) WaitForDeployment(ctx context.Context, in *WaitInput) (*WaitOutput, error) {
	if in == nil {
		return nil, fmt.Errorf("WaitInput is required")
	}
	if in.Target.Service == "" {
		return nil, fmt.Errorf("WaitInput.Target.Service is required")
	}
	hs, err := u.handlers(in.Target)
	if err != nil {
		return nil, err
	}
	interval := u.pollInterval(in.PollInterval)
	timeout := u.waitTimeout(in.Timeout)
	selector := in.Target.Selector()

	logger := logging.FromContext(ctx)
	msgSym := "Deploy:Wait"
	logger.Info(ctx, msgSym+"/s", "selector", selector, "timeout", timeout.String())

	out := &WaitOutput{Status: kube.StatusPending}
	var parent *kube.PodParent
	var terminal error
	poll := func(ctx context.Context) (bool, error) {
		p, err := kube.ResolvePodParent(ctx, hs, selector)
		if err != nil {
			// Transient read failures never end the wait.
			logger.Warn(ctx, msgSym+":Poll", "err", err)
			return false, nil
		}
		if p == nil {
			out.Status = kube.StatusStable
			out.Message = "no workload controller"
			return true, nil
		}
		parent = p
		out.Parent = p.Ref()
		out.Desired, out.Ready = p.Replicas()
		out.Status = p.Status()
		logger.Debug(ctx, msgSym+":Poll", "parent", out.Parent.String(), "status", out.Status, "ready", out.Ready, "desired", out.Desired)
		switch out.Status {
		case kube.StatusStable:
			return true, nil
		case kube.StatusPaused:
			terminal = ErrNotConfirmed
			return true, nil
		case kube.StatusFailed:
			if !p.Progressing() {
				terminal = ErrUnhealthy
				return true, nil
			}
		}
		return false, nil
	}

	err = wait.PollUntilContextTimeout(ctx, interval, timeout, true, poll)
	switch {
	case err == nil && terminal == nil:
		logger.Info(ctx, msgSym+"/eok", "status", out.Status)
		return out, nil
	case err == nil:
		err = fmt.Errorf("%w: %s is %s", terminal, out.Parent, out.Status)
	case errors.Is(ctx.Err(), context.Canceled):
		err = fmt.Errorf("wait for %s cancelled: %w", in.Target, ctx.Err())
	case wait.Interrupted(err):
		err = fmt.Errorf("%w: %s is %s after %s (%d/%d ready)", ErrNotConfirmed, describeParent(out), out.Status, timeout, out.Ready, out.Desired)
	}
	if parent != nil {
		out.Message = joinLines(out.Message, podsMessage(context.WithoutCancel(ctx), parent))
	}
	logger.Warn(ctx, msgSym+"/efail", "status", out.Status, "err", err)
	return out, err
}

func describeParent(out *WaitOutput) string {
	if out.Parent.Name == "" {
		return "workload"
	}
	return out.Parent.String()
}

func joinLines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
