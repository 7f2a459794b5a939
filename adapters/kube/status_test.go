package kube_test

import (
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kompox/kdeploy/adapters/kube"
)

func deploymentWith(replicas *int32, st appsv1.DeploymentStatus, paused bool) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Generation: 1},
		Spec:       appsv1.DeploymentSpec{Replicas: replicas, Paused: paused},
		Status:     st,
	}
}

func TestDeploymentStatus(t *testing.T) {
	full := appsv1.DeploymentStatus{ObservedGeneration: 1, Replicas: 3, UpdatedReplicas: 3, AvailableReplicas: 3, ReadyReplicas: 3}
	tests := []struct {
		name string
		d    *appsv1.Deployment
		want kube.ResourceStatus
	}{
		{"no status", deploymentWith(int32p(3), appsv1.DeploymentStatus{}, false), kube.StatusFailed},
		{"all at desired", deploymentWith(int32p(3), full, false), kube.StatusStable},
		{"updated below", deploymentWith(int32p(3), func() appsv1.DeploymentStatus { s := full; s.UpdatedReplicas = 2; return s }(), false), kube.StatusPending},
		{"available below", deploymentWith(int32p(3), func() appsv1.DeploymentStatus { s := full; s.AvailableReplicas = 2; return s }(), false), kube.StatusPending},
		{"ready below", deploymentWith(int32p(3), func() appsv1.DeploymentStatus { s := full; s.ReadyReplicas = 2; return s }(), false), kube.StatusPending},
		{"paused spec", deploymentWith(int32p(3), full, true), kube.StatusPaused},
		{"paused counts irrelevant", deploymentWith(int32p(3), appsv1.DeploymentStatus{ObservedGeneration: 1, Replicas: 1}, true), kube.StatusPaused},
		{"paused condition", deploymentWith(int32p(3), appsv1.DeploymentStatus{ObservedGeneration: 1, Conditions: []appsv1.DeploymentCondition{
			{Type: appsv1.DeploymentProgressing, Status: corev1.ConditionUnknown, Reason: "DeploymentPaused"},
		}}, false), kube.StatusPaused},
		{"unavailable", deploymentWith(int32p(3), appsv1.DeploymentStatus{ObservedGeneration: 1, Replicas: 3, UpdatedReplicas: 3, AvailableReplicas: 3, ReadyReplicas: 3, Conditions: []appsv1.DeploymentCondition{
			{Type: appsv1.DeploymentAvailable, Status: corev1.ConditionFalse},
		}}, false), kube.StatusFailed},
		{"scaled to zero", deploymentWith(int32p(0), appsv1.DeploymentStatus{ObservedGeneration: 1}, false), kube.StatusStable},
		{"nil replicas means one", deploymentWith(nil, appsv1.DeploymentStatus{ObservedGeneration: 1, Replicas: 1, UpdatedReplicas: 1, AvailableReplicas: 1, ReadyReplicas: 1}, false), kube.StatusStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kube.DeploymentStatus(tt.d); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if got := kube.EvaluateStatus(tt.d); got != tt.want {
				t.Errorf("EvaluateStatus got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatefulSetStatus(t *testing.T) {
	base := appsv1.StatefulSetStatus{ObservedGeneration: 1, CurrentRevision: "r1", UpdateRevision: "r1", CurrentReplicas: 2, ReadyReplicas: 2, Replicas: 2}
	tests := []struct {
		name   string
		mutate func(*appsv1.StatefulSetStatus)
		zero   bool
		want   kube.ResourceStatus
	}{
		{name: "no status", zero: true, want: kube.StatusFailed},
		{name: "stable", mutate: func(*appsv1.StatefulSetStatus) {}, want: kube.StatusStable},
		{name: "revision rolling", mutate: func(s *appsv1.StatefulSetStatus) { s.UpdateRevision = "r2" }, want: kube.StatusPending},
		{name: "not ready", mutate: func(s *appsv1.StatefulSetStatus) { s.ReadyReplicas = 1 }, want: kube.StatusPending},
		{name: "current below", mutate: func(s *appsv1.StatefulSetStatus) { s.CurrentReplicas = 1 }, want: kube.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &appsv1.StatefulSet{Spec: appsv1.StatefulSetSpec{Replicas: int32p(2)}}
			if !tt.zero {
				s.Status = base
				tt.mutate(&s.Status)
			}
			if got := kube.StatefulSetStatus(s); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDaemonSetStatus(t *testing.T) {
	d := &appsv1.DaemonSet{Status: appsv1.DaemonSetStatus{DesiredNumberScheduled: 3, UpdatedNumberScheduled: 3, NumberAvailable: 3, NumberReady: 3}}
	if got := kube.DaemonSetStatus(d); got != kube.StatusStable {
		t.Errorf("got %s", got)
	}
	d.Status.NumberReady = 2
	if got := kube.DaemonSetStatus(d); got != kube.StatusPending {
		t.Errorf("got %s", got)
	}
	if got := kube.DaemonSetStatus(&appsv1.DaemonSet{}); got != kube.StatusFailed {
		t.Errorf("got %s", got)
	}
}

func TestProgressing(t *testing.T) {
	d := deploymentWith(int32p(1), appsv1.DeploymentStatus{ObservedGeneration: 0}, false)
	if !kube.Progressing(d) {
		t.Errorf("unobserved generation should be progressing")
	}
	d.Status.ObservedGeneration = 1
	d.Status.Conditions = []appsv1.DeploymentCondition{{Type: appsv1.DeploymentProgressing, Status: corev1.ConditionFalse, Reason: "ProgressDeadlineExceeded"}}
	if kube.Progressing(d) {
		t.Errorf("deadline exceeded should not be progressing")
	}
	d.Status.Conditions[0].Status = corev1.ConditionTrue
	if !kube.Progressing(d) {
		t.Errorf("progressing condition true should be progressing")
	}
	if kube.Progressing(newConfigMap("c", nil)) {
		t.Errorf("configmap is never progressing")
	}
}
