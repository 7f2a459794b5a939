package kube

import (
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
)

// Kind names a supported resource kind.
type Kind string

const (
	KindStorageClass            Kind = "StorageClass"
	KindServiceAccount          Kind = "ServiceAccount"
	KindConfigMap               Kind = "ConfigMap"
	KindSecret                  Kind = "Secret"
	KindPersistentVolumeClaim   Kind = "PersistentVolumeClaim"
	KindService                 Kind = "Service"
	KindDeployment              Kind = "Deployment"
	KindStatefulSet             Kind = "StatefulSet"
	KindDaemonSet               Kind = "DaemonSet"
	KindHorizontalPodAutoscaler Kind = "HorizontalPodAutoscaler"
	KindIngress                 Kind = "Ingress"
	KindPod                     Kind = "Pod"
)

// HasPodTemplate reports whether the kind carries spec.template.
func (k Kind) HasPodTemplate() bool {
	switch k {
	case KindDeployment, KindStatefulSet, KindDaemonSet:
		return true
	}
	return false
}

// handlerFactory builds a namespace-scoped handler for one kind.
type handlerFactory func(cs kubernetes.Interface, namespace string, spec KindSpec) Handler

// KindSpec is the registry entry for one kind.
type KindSpec struct {
	Kind Kind
	// Weight orders apply (ascending) and cleanup passes. Equal weights keep manifest order.
	Weight int
	// CleanUp marks the kind as eligible for stale resource pruning.
	CleanUp      bool
	Namespaced   bool
	GroupVersion schema.GroupVersion

	factory handlerFactory
}

// Registry is the immutable table of supported kinds.
// It is safe for concurrent use and shared across deployments.
type Registry struct {
	specs map[Kind]KindSpec
	kinds []Kind
}

// NewRegistry returns the registry of every supported kind.
func NewRegistry() *Registry {
	specs := []KindSpec{
		{Kind: KindStorageClass, Weight: 10, CleanUp: false, Namespaced: false, GroupVersion: storagev1.SchemeGroupVersion, factory: newStorageClassHandler},
		{Kind: KindServiceAccount, Weight: 20, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newServiceAccountHandler},
		{Kind: KindConfigMap, Weight: 20, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newConfigMapHandler},
		{Kind: KindSecret, Weight: 20, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newSecretHandler},
		{Kind: KindPersistentVolumeClaim, Weight: 30, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newPersistentVolumeClaimHandler},
		{Kind: KindService, Weight: 40, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newServiceHandler},
		{Kind: KindDeployment, Weight: 50, CleanUp: true, Namespaced: true, GroupVersion: appsv1.SchemeGroupVersion, factory: newDeploymentHandler},
		{Kind: KindStatefulSet, Weight: 50, CleanUp: true, Namespaced: true, GroupVersion: appsv1.SchemeGroupVersion, factory: newStatefulSetHandler},
		{Kind: KindDaemonSet, Weight: 50, CleanUp: true, Namespaced: true, GroupVersion: appsv1.SchemeGroupVersion, factory: newDaemonSetHandler},
		{Kind: KindHorizontalPodAutoscaler, Weight: 60, CleanUp: true, Namespaced: true, GroupVersion: autoscalingv2.SchemeGroupVersion, factory: newHorizontalPodAutoscalerHandler},
		{Kind: KindIngress, Weight: 60, CleanUp: true, Namespaced: true, GroupVersion: networkingv1.SchemeGroupVersion, factory: newIngressHandler},
		{Kind: KindPod, Weight: 70, CleanUp: true, Namespaced: true, GroupVersion: corev1.SchemeGroupVersion, factory: newPodHandler},
	}
	r := &Registry{specs: make(map[Kind]KindSpec, len(specs))}
	for _, s := range specs {
		r.specs[s.Kind] = s
		r.kinds = append(r.kinds, s.Kind)
	}
	sort.SliceStable(r.kinds, func(i, j int) bool {
		a, b := r.specs[r.kinds[i]], r.specs[r.kinds[j]]
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		return a.Kind < b.Kind
	})
	return r
}

// Spec returns the entry for kind.
func (r *Registry) Spec(kind Kind) (KindSpec, bool) {
	s, ok := r.specs[kind]
	return s, ok
}

// Kinds returns every registered kind by weight ascending, ties broken by name.
func (r *Registry) Kinds() []Kind {
	return append([]Kind(nil), r.kinds...)
}

// Handlers instantiates one handler per kind bound to the clientset and namespace.
func (r *Registry) Handlers(cs kubernetes.Interface, namespace string) *HandlerSet {
	hs := &HandlerSet{registry: r, namespace: namespace, handlers: make(map[Kind]Handler, len(r.specs))}
	for k, s := range r.specs {
		ns := namespace
		if !s.Namespaced {
			ns = ""
		}
		hs.handlers[k] = s.factory(cs, ns, s)
	}
	return hs
}

// HandlerSet holds the handlers of one deployment invocation.
type HandlerSet struct {
	registry  *Registry
	namespace string
	handlers  map[Kind]Handler
}

// Registry returns the registry the set was built from.
func (hs *HandlerSet) Registry() *Registry { return hs.registry }

// Namespace returns the namespace the set is bound to.
func (hs *HandlerSet) Namespace() string { return hs.namespace }

// Handler returns the handler for kind, or nil when unsupported.
func (hs *HandlerSet) Handler(kind Kind) Handler { return hs.handlers[kind] }

// For returns the handler for the manifest's kind.
func (hs *HandlerSet) For(m *Manifest) (Handler, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is nil")
	}
	h := hs.handlers[m.Kind]
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, m.Kind)
	}
	return h, nil
}
