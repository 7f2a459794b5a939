package kube

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/kompox/kdeploy/internal/logging"
)

// podParentKinds is the resolution order of workload controllers.
var podParentKinds = []Kind{KindDeployment, KindStatefulSet, KindDaemonSet}

// PodParent is a live workload controller owning a service's pods.
type PodParent struct {
	Kind   Kind
	Object Object

	handlers *HandlerSet
}

// Name returns the controller name.
func (p *PodParent) Name() string { return p.Object.GetName() }

// Ref returns the kind-qualified name.
func (p *PodParent) Ref() Ref { return Ref{Kind: p.Kind, Name: p.Name()} }

// Status evaluates the controller's stability.
func (p *PodParent) Status() ResourceStatus { return EvaluateStatus(p.Object) }

// Progressing reports whether a rollout is still in flight.
func (p *PodParent) Progressing() bool { return Progressing(p.Object) }

// Replicas returns desired and ready replica counts.
func (p *PodParent) Replicas() (desired, ready int32) { return ReplicaCounts(p.Object) }

// LabelSelector returns the controller's pod selector.
func (p *PodParent) LabelSelector() *metav1.LabelSelector {
	switch o := p.Object.(type) {
	case *appsv1.Deployment:
		return o.Spec.Selector
	case *appsv1.StatefulSet:
		return o.Spec.Selector
	case *appsv1.DaemonSet:
		return o.Spec.Selector
	}
	return nil
}

// Pods lists the pods selected by the controller, ordered by name.
func (p *PodParent) Pods(ctx context.Context) ([]*corev1.Pod, error) {
	ls := p.LabelSelector()
	if ls == nil {
		return nil, nil
	}
	sel, err := metav1.LabelSelectorAsSelector(ls)
	if err != nil {
		return nil, fmt.Errorf("%s selector: %w", p.Ref(), err)
	}
	if sel.Empty() {
		return nil, nil
	}
	return listPods(ctx, p.handlers, sel)
}

func listPods(ctx context.Context, hs *HandlerSet, sel labels.Selector) ([]*corev1.Pod, error) {
	objs, err := hs.Handler(KindPod).GetBySelector(ctx, sel.String(), true)
	if err != nil {
		return nil, err
	}
	out := make([]*corev1.Pod, 0, len(objs))
	for _, o := range objs {
		if p, ok := o.(*corev1.Pod); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ResolvePodParent returns the first workload controller matching selector, trying
// Deployment, StatefulSet then DaemonSet. It returns (nil, nil) when none exists.
func ResolvePodParent(ctx context.Context, hs *HandlerSet, selector string) (*PodParent, error) {
	logger := logging.FromContext(ctx)
	for _, k := range podParentKinds {
		objs, err := hs.Handler(k).GetBySelector(ctx, selector, true)
		if err != nil {
			return nil, err
		}
		if len(objs) == 0 {
			continue
		}
		if len(objs) > 1 {
			logger.Warn(ctx, "KubeHandler:ResolvePodParent", "msg", "multiple controllers match, using the first", "kind", k, "count", len(objs), "name", objs[0].GetName())
		}
		return &PodParent{Kind: k, Object: objs[0], handlers: hs}, nil
	}
	return nil, nil
}

// ResolvePodParents returns every workload controller matching selector, ordered by kind priority then name.
func ResolvePodParents(ctx context.Context, hs *HandlerSet, selector string) ([]*PodParent, error) {
	var out []*PodParent
	for _, k := range podParentKinds {
		objs, err := hs.Handler(k).GetBySelector(ctx, selector, true)
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			out = append(out, &PodParent{Kind: k, Object: o, handlers: hs})
		}
	}
	return out, nil
}
