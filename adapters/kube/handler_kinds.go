package kube

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	storagev1 "k8s.io/api/storage/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/kompox/kdeploy/internal/logging"
)

func ptrs[T any](items []T) []*T {
	out := make([]*T, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}

func newStorageClassHandler(cs kubernetes.Interface, _ string, spec KindSpec) Handler {
	return &typedHandler[*storagev1.StorageClass, *storagev1.StorageClassList]{
		spec:   spec,
		client: cs.StorageV1().StorageClasses(),
		newObj: func() *storagev1.StorageClass { return &storagev1.StorageClass{} },
		items:  func(l *storagev1.StorageClassList) []*storagev1.StorageClass { return ptrs(l.Items) },
	}
}

func newServiceAccountHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.ServiceAccount, *corev1.ServiceAccountList]{
		spec:   spec,
		client: cs.CoreV1().ServiceAccounts(ns),
		newObj: func() *corev1.ServiceAccount { return &corev1.ServiceAccount{} },
		items:  func(l *corev1.ServiceAccountList) []*corev1.ServiceAccount { return ptrs(l.Items) },
		hooks: kindHooks[*corev1.ServiceAccount]{
			// Token controller populated secrets survive a replace.
			preserve: func(live, desired *corev1.ServiceAccount) {
				if len(desired.Secrets) == 0 {
					desired.Secrets = live.Secrets
				}
			},
		},
	}
}

func newConfigMapHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.ConfigMap, *corev1.ConfigMapList]{
		spec:   spec,
		client: cs.CoreV1().ConfigMaps(ns),
		newObj: func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		items:  func(l *corev1.ConfigMapList) []*corev1.ConfigMap { return ptrs(l.Items) },
	}
}

func newSecretHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.Secret, *corev1.SecretList]{
		spec:   spec,
		client: cs.CoreV1().Secrets(ns),
		newObj: func() *corev1.Secret { return &corev1.Secret{} },
		items:  func(l *corev1.SecretList) []*corev1.Secret { return ptrs(l.Items) },
	}
}

// newPersistentVolumeClaimHandler keeps the live claim spec on update and patch.
// Storage class and size drift is reported by the VolumeGuard instead.
func newPersistentVolumeClaimHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.PersistentVolumeClaim, *corev1.PersistentVolumeClaimList]{
		spec:   spec,
		client: cs.CoreV1().PersistentVolumeClaims(ns),
		newObj: func() *corev1.PersistentVolumeClaim { return &corev1.PersistentVolumeClaim{} },
		items: func(l *corev1.PersistentVolumeClaimList) []*corev1.PersistentVolumeClaim {
			return ptrs(l.Items)
		},
		hooks: kindHooks[*corev1.PersistentVolumeClaim]{
			status: func(p *corev1.PersistentVolumeClaim) ResourceStatus {
				switch p.Status.Phase {
				case corev1.ClaimBound:
					return StatusStable
				case corev1.ClaimLost:
					return StatusFailed
				}
				return StatusPending
			},
			preserve: func(live, desired *corev1.PersistentVolumeClaim) {
				desired.Spec = live.Spec
			},
			stripPatch: func(doc map[string]any) {
				delete(doc, "spec")
			},
		},
	}
}

func newServiceHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.Service, *corev1.ServiceList]{
		spec:   spec,
		client: cs.CoreV1().Services(ns),
		newObj: func() *corev1.Service { return &corev1.Service{} },
		items:  func(l *corev1.ServiceList) []*corev1.Service { return ptrs(l.Items) },
		hooks: kindHooks[*corev1.Service]{
			// Allocated cluster IPs are immutable.
			preserve: func(live, desired *corev1.Service) {
				if desired.Spec.ClusterIP == "" {
					desired.Spec.ClusterIP = live.Spec.ClusterIP
					desired.Spec.ClusterIPs = live.Spec.ClusterIPs
				}
				if len(desired.Spec.IPFamilies) == 0 {
					desired.Spec.IPFamilies = live.Spec.IPFamilies
				}
			},
		},
	}
}

func newDeploymentHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	pods := cs.CoreV1().Pods(ns)
	return &typedHandler[*appsv1.Deployment, *appsv1.DeploymentList]{
		spec:   spec,
		client: cs.AppsV1().Deployments(ns),
		newObj: func() *appsv1.Deployment { return &appsv1.Deployment{} },
		items:  func(l *appsv1.DeploymentList) []*appsv1.Deployment { return ptrs(l.Items) },
		hooks: kindHooks[*appsv1.Deployment]{
			status: DeploymentStatus,
			afterPatch: func(ctx context.Context, d *appsv1.Deployment) {
				RecoverPods(ctx, pods, d.Spec.Selector)
			},
		},
	}
}

func newStatefulSetHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	pods := cs.CoreV1().Pods(ns)
	return &typedHandler[*appsv1.StatefulSet, *appsv1.StatefulSetList]{
		spec:   spec,
		client: cs.AppsV1().StatefulSets(ns),
		newObj: func() *appsv1.StatefulSet { return &appsv1.StatefulSet{} },
		items:  func(l *appsv1.StatefulSetList) []*appsv1.StatefulSet { return ptrs(l.Items) },
		hooks: kindHooks[*appsv1.StatefulSet]{
			status: StatefulSetStatus,
			afterPatch: func(ctx context.Context, s *appsv1.StatefulSet) {
				RecoverPods(ctx, pods, s.Spec.Selector)
			},
		},
	}
}

func newDaemonSetHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	pods := cs.CoreV1().Pods(ns)
	return &typedHandler[*appsv1.DaemonSet, *appsv1.DaemonSetList]{
		spec:   spec,
		client: cs.AppsV1().DaemonSets(ns),
		newObj: func() *appsv1.DaemonSet { return &appsv1.DaemonSet{} },
		items:  func(l *appsv1.DaemonSetList) []*appsv1.DaemonSet { return ptrs(l.Items) },
		hooks: kindHooks[*appsv1.DaemonSet]{
			status: DaemonSetStatus,
			afterPatch: func(ctx context.Context, d *appsv1.DaemonSet) {
				RecoverPods(ctx, pods, d.Spec.Selector)
			},
		},
	}
}

func newHorizontalPodAutoscalerHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*autoscalingv2.HorizontalPodAutoscaler, *autoscalingv2.HorizontalPodAutoscalerList]{
		spec:   spec,
		client: cs.AutoscalingV2().HorizontalPodAutoscalers(ns),
		newObj: func() *autoscalingv2.HorizontalPodAutoscaler { return &autoscalingv2.HorizontalPodAutoscaler{} },
		items: func(l *autoscalingv2.HorizontalPodAutoscalerList) []*autoscalingv2.HorizontalPodAutoscaler {
			return ptrs(l.Items)
		},
	}
}

func newIngressHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*networkingv1.Ingress, *networkingv1.IngressList]{
		spec:   spec,
		client: cs.NetworkingV1().Ingresses(ns),
		newObj: func() *networkingv1.Ingress { return &networkingv1.Ingress{} },
		items:  func(l *networkingv1.IngressList) []*networkingv1.Ingress { return ptrs(l.Items) },
	}
}

// newPodHandler recreates pods whose spec changed since most pod fields are immutable.
func newPodHandler(cs kubernetes.Interface, ns string, spec KindSpec) Handler {
	return &typedHandler[*corev1.Pod, *corev1.PodList]{
		spec:   spec,
		client: cs.CoreV1().Pods(ns),
		newObj: func() *corev1.Pod { return &corev1.Pod{} },
		items:  func(l *corev1.PodList) []*corev1.Pod { return ptrs(l.Items) },
		hooks: kindHooks[*corev1.Pod]{
			status: func(p *corev1.Pod) ResourceStatus {
				switch p.Status.Phase {
				case corev1.PodSucceeded:
					return StatusStable
				case corev1.PodFailed:
					return StatusFailed
				case corev1.PodRunning:
					if IsPodReady(p) {
						return StatusStable
					}
				}
				return StatusPending
			},
			recreate: func(live, desired *corev1.Pod) bool {
				return !apiequality.Semantic.DeepDerivative(desired.Spec, live.Spec)
			},
		},
	}
}

// stuckWaitingReasons are container waiting reasons the controller never recovers from on its own.
var stuckWaitingReasons = map[string]bool{
	"CrashLoopBackOff":           true,
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"CreateContainerConfigError": true,
}

// NeedsRecovery reports whether a pod is failed or stuck and should be deleted for its controller to recreate.
func NeedsRecovery(p *corev1.Pod) bool {
	if p == nil || p.DeletionTimestamp != nil {
		return false
	}
	if p.Status.Phase == corev1.PodFailed {
		return true
	}
	for _, statuses := range [][]corev1.ContainerStatus{p.Status.InitContainerStatuses, p.Status.ContainerStatuses} {
		for _, cs := range statuses {
			if cs.State.Waiting != nil && stuckWaitingReasons[cs.State.Waiting.Reason] {
				return true
			}
		}
	}
	return false
}

// RecoverPods deletes the failed or stuck pods matched by selector. Empty selectors are ignored.
// Errors are logged and never returned.
func RecoverPods(ctx context.Context, pods corev1client.PodInterface, selector *metav1.LabelSelector) int {
	if selector == nil || (len(selector.MatchLabels) == 0 && len(selector.MatchExpressions) == 0) {
		return 0
	}
	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:RecoverPods"
	sel, err := metav1.LabelSelectorAsSelector(selector)
	if err != nil {
		logger.Warn(ctx, msgSym+"/efail", "err", err)
		return 0
	}
	list, err := pods.List(ctx, metav1.ListOptions{LabelSelector: sel.String()})
	if err != nil {
		logger.Warn(ctx, msgSym+"/efail", "err", err)
		return 0
	}
	n := 0
	for i := range list.Items {
		p := &list.Items[i]
		if !NeedsRecovery(p) {
			continue
		}
		if err := pods.Delete(ctx, p.Name, metav1.DeleteOptions{}); err != nil && !IsNotFound(err) {
			logger.Warn(ctx, msgSym+"/efail", "pod", p.Name, "err", err)
			continue
		}
		logger.Info(ctx, msgSym+"/eok", "pod", p.Name)
		n++
	}
	return n
}

// IsPodReady reports whether the pod's Ready condition is True.
func IsPodReady(p *corev1.Pod) bool {
	for _, c := range p.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
