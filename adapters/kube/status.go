package kube

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
)

// ResourceStatus is the stability verdict for a live resource.
type ResourceStatus string

const (
	StatusPending ResourceStatus = "PENDING"
	StatusStable  ResourceStatus = "STABLE"
	StatusPaused  ResourceStatus = "PAUSED"
	StatusFailed  ResourceStatus = "FAILED"
)

// deploymentPausedReason is the Progressing condition reason set on paused rollouts.
const deploymentPausedReason = "DeploymentPaused"

func desiredReplicas(r *int32) int32 {
	if r == nil {
		return 1
	}
	return *r
}

// DeploymentStatus evaluates a Deployment.
func DeploymentStatus(d *appsv1.Deployment) ResourceStatus {
	if d == nil || apiequality.Semantic.DeepEqual(d.Status, appsv1.DeploymentStatus{}) {
		return StatusFailed
	}
	if d.Spec.Paused {
		return StatusPaused
	}
	if c := deploymentCondition(d, appsv1.DeploymentProgressing); c != nil && c.Reason == deploymentPausedReason {
		return StatusPaused
	}
	if c := deploymentCondition(d, appsv1.DeploymentAvailable); c != nil && c.Status == corev1.ConditionFalse {
		return StatusFailed
	}
	want := desiredReplicas(d.Spec.Replicas)
	st := d.Status
	if want == 0 && st.Replicas == 0 {
		return StatusStable
	}
	if st.UpdatedReplicas >= want && st.AvailableReplicas >= want && st.ReadyReplicas >= want {
		return StatusStable
	}
	return StatusPending
}

// StatefulSetStatus evaluates a StatefulSet.
func StatefulSetStatus(s *appsv1.StatefulSet) ResourceStatus {
	if s == nil || apiequality.Semantic.DeepEqual(s.Status, appsv1.StatefulSetStatus{}) {
		return StatusFailed
	}
	want := desiredReplicas(s.Spec.Replicas)
	st := s.Status
	if st.UpdateRevision == st.CurrentRevision && st.CurrentReplicas == want && st.ReadyReplicas == want {
		return StatusStable
	}
	return StatusPending
}

// DaemonSetStatus evaluates a DaemonSet.
func DaemonSetStatus(d *appsv1.DaemonSet) ResourceStatus {
	if d == nil || apiequality.Semantic.DeepEqual(d.Status, appsv1.DaemonSetStatus{}) {
		return StatusFailed
	}
	st := d.Status
	want := st.DesiredNumberScheduled
	if st.UpdatedNumberScheduled == want && st.NumberAvailable == want && st.NumberReady == want {
		return StatusStable
	}
	return StatusPending
}

// EvaluateStatus dispatches on the concrete type. Kinds without a rollout report STABLE.
func EvaluateStatus(obj Object) ResourceStatus {
	switch o := obj.(type) {
	case nil:
		return StatusFailed
	case *appsv1.Deployment:
		return DeploymentStatus(o)
	case *appsv1.StatefulSet:
		return StatefulSetStatus(o)
	case *appsv1.DaemonSet:
		return DaemonSetStatus(o)
	}
	return StatusStable
}

// Progressing reports whether the controller is still working on the current generation.
func Progressing(obj Object) bool {
	switch o := obj.(type) {
	case *appsv1.Deployment:
		if o.Status.ObservedGeneration < o.Generation {
			return true
		}
		if o.Spec.Paused {
			return false
		}
		c := deploymentCondition(o, appsv1.DeploymentProgressing)
		return c == nil || c.Status != corev1.ConditionFalse
	case *appsv1.StatefulSet:
		return o.Status.ObservedGeneration < o.Generation
	case *appsv1.DaemonSet:
		return o.Status.ObservedGeneration < o.Generation
	}
	return false
}

// ReplicaCounts returns desired and ready replicas of a workload.
func ReplicaCounts(obj Object) (desired, ready int32) {
	switch o := obj.(type) {
	case *appsv1.Deployment:
		return desiredReplicas(o.Spec.Replicas), o.Status.ReadyReplicas
	case *appsv1.StatefulSet:
		return desiredReplicas(o.Spec.Replicas), o.Status.ReadyReplicas
	case *appsv1.DaemonSet:
		return o.Status.DesiredNumberScheduled, o.Status.NumberReady
	}
	return 0, 0
}

func deploymentCondition(d *appsv1.Deployment, t appsv1.DeploymentConditionType) *appsv1.DeploymentCondition {
	for i := range d.Status.Conditions {
		if d.Status.Conditions[i].Type == t {
			return &d.Status.Conditions[i]
		}
	}
	return nil
}
