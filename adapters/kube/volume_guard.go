package kube

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/kompox/kdeploy/internal/logging"
)

// VolumeClaim describes a live PersistentVolumeClaim of a service.
type VolumeClaim struct {
	// Volume is the logical volume name.
	Volume       string `json:"volume"`
	Claim        string `json:"claim"`
	StorageClass string `json:"storageClass,omitempty"`
	Size         string `json:"size,omitempty"`
	Phase        string `json:"phase,omitempty"`
}

// VolumeReport is the outcome of a VolumeGuard pass.
type VolumeReport struct {
	// Deleted claims were removed so the apply step recreates them.
	Deleted []VolumeClaim
	// Protected claims are referenced by a running and ready pod.
	Protected []string
	// Stale claims are no longer used or declared. They are never deleted.
	Stale []VolumeClaim
	// Warnings describe drift between declared and live claims.
	Warnings []string
	Errors   []error
}

// VolumeGuard manages PersistentVolumeClaims of one service across redeployments.
type VolumeGuard struct {
	handlers *HandlerSet
	selector string
}

// NewVolumeGuard returns a guard for the claims carrying the target's ownership labels.
func NewVolumeGuard(hs *HandlerSet, target Target) *VolumeGuard {
	return &VolumeGuard{handlers: hs, selector: target.Selector()}
}

// workloadShape tells how claims of a service are bound to its pods.
type workloadShape int

const (
	shapeNone workloadShape = iota
	// shapeShared: a Deployment mounts claims declared as standalone manifests.
	shapeShared
	// shapeOrdinal: a StatefulSet owns per-ordinal claims from volumeClaimTemplates.
	shapeOrdinal
)

type volumeState struct {
	claims []*corev1.PersistentVolumeClaim
	pods   []*corev1.Pod
	// statefulSets maps StatefulSet name to its claim template names and replica count.
	statefulSets map[string]stsClaims
}

type stsClaims struct {
	templates []string
	replicas  int32
}

func (g *VolumeGuard) load(ctx context.Context, manifests []*Manifest) (*volumeState, error) {
	st := &volumeState{statefulSets: map[string]stsClaims{}}
	objs, err := g.handlers.Handler(KindPersistentVolumeClaim).GetBySelector(ctx, g.selector, true)
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		if c, ok := o.(*corev1.PersistentVolumeClaim); ok {
			st.claims = append(st.claims, c)
		}
	}
	pods, err := g.handlers.Handler(KindPod).GetBySelector(ctx, g.selector, true)
	if err != nil {
		return nil, err
	}
	for _, o := range pods {
		if p, ok := o.(*corev1.Pod); ok {
			st.pods = append(st.pods, p)
		}
	}
	live, err := g.handlers.Handler(KindStatefulSet).GetBySelector(ctx, g.selector, true)
	if err != nil {
		return nil, err
	}
	for _, o := range live {
		if s, ok := o.(*appsv1.StatefulSet); ok {
			st.statefulSets[s.Name] = claimsOf(s)
		}
	}
	for _, m := range manifests {
		if m.Kind != KindStatefulSet {
			continue
		}
		var s appsv1.StatefulSet
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(m.Body.Object, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Ref(), err)
		}
		st.statefulSets[s.Name] = claimsOf(&s)
	}
	return st, nil
}

func claimsOf(s *appsv1.StatefulSet) stsClaims {
	c := stsClaims{replicas: desiredReplicas(s.Spec.Replicas)}
	for _, t := range s.Spec.VolumeClaimTemplates {
		c.templates = append(c.templates, t.Name)
	}
	return c
}

// protected returns claims referenced by running and ready pods.
func (st *volumeState) protected() map[string]bool {
	out := map[string]bool{}
	for _, p := range st.pods {
		if p.Status.Phase != corev1.PodRunning || !IsPodReady(p) {
			continue
		}
		for _, c := range podClaims(p) {
			out[c] = true
		}
	}
	return out
}

// referenced returns claims referenced by any current pod.
func (st *volumeState) referenced() map[string]bool {
	out := map[string]bool{}
	for _, p := range st.pods {
		for _, c := range podClaims(p) {
			out[c] = true
		}
	}
	return out
}

// ordinalClaim reports whether claim is <template>-<sts>-<ordinal>, the template name and
// whether the ordinal is below the replica count.
func (st *volumeState) ordinalClaim(claim string) (template string, inRange bool, ok bool) {
	for name, sc := range st.statefulSets {
		for _, t := range sc.templates {
			prefix := t + "-" + name + "-"
			if !strings.HasPrefix(claim, prefix) {
				continue
			}
			n, err := strconv.Atoi(strings.TrimPrefix(claim, prefix))
			if err != nil || n < 0 {
				continue
			}
			return t, int32(n) < sc.replicas, true
		}
	}
	return "", false, false
}

func (st *volumeState) describe(c *corev1.PersistentVolumeClaim) VolumeClaim {
	vc := VolumeClaim{Volume: c.Name, Claim: c.Name, Phase: string(c.Status.Phase)}
	if c.Spec.StorageClassName != nil {
		vc.StorageClass = *c.Spec.StorageClassName
	}
	if q, ok := c.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		vc.Size = q.String()
	}
	if v := c.Labels[LabelKdVolume]; v != "" {
		vc.Volume = v
	} else if t, _, ok := st.ordinalClaim(c.Name); ok {
		vc.Volume = t
	}
	return vc
}

func podClaims(p *corev1.Pod) []string {
	var out []string
	for _, v := range p.Spec.Volumes {
		if v.PersistentVolumeClaim != nil && v.PersistentVolumeClaim.ClaimName != "" {
			out = append(out, v.PersistentVolumeClaim.ClaimName)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// shapeOf picks the workload shape from the desired set, falling back to the live pod parent.
func (g *VolumeGuard) shapeOf(ctx context.Context, manifests []*Manifest) (workloadShape, error) {
	for _, m := range manifests {
		switch m.Kind {
		case KindDeployment:
			return shapeShared, nil
		case KindStatefulSet:
			return shapeOrdinal, nil
		}
	}
	parent, err := ResolvePodParent(ctx, g.handlers, g.selector)
	if err != nil || parent == nil {
		return shapeNone, err
	}
	switch parent.Kind {
	case KindDeployment:
		return shapeShared, nil
	case KindStatefulSet:
		return shapeOrdinal, nil
	}
	return shapeNone, nil
}

// Release runs before apply. For a Deployment every claim not protected is deleted so declared
// claims are recreated by the apply step. For a StatefulSet the claims of each pod that is neither
// running nor ready are deleted together with the pod.
func (g *VolumeGuard) Release(ctx context.Context, manifests []*Manifest) (rep *VolumeReport) {
	logger := logging.FromContext(ctx)
	msgSym := "VolumeGuard:Release"
	rep = &VolumeReport{}
	logger.Debug(ctx, msgSym+"/s", "selector", g.selector)
	defer func() {
		logger.Info(ctx, msgSym+"/eok", "deleted", len(rep.Deleted), "protected", len(rep.Protected), "errors", len(rep.Errors))
	}()

	shape, err := g.shapeOf(ctx, manifests)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	st, err := g.load(ctx, manifests)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	protected := st.protected()
	rep.Protected = sortedKeys(protected)
	claims := map[string]*corev1.PersistentVolumeClaim{}
	for _, c := range st.claims {
		claims[c.Name] = c
	}
	pvcs := g.handlers.Handler(KindPersistentVolumeClaim)

	deleteClaim := func(name string) {
		c, ok := claims[name]
		if !ok || protected[name] {
			return
		}
		deleted, err := pvcs.Delete(ctx, name, false)
		if err != nil {
			logger.Warn(ctx, msgSym+"/efail", "claim", name, "err", err)
			rep.Errors = append(rep.Errors, err)
			return
		}
		if deleted {
			rep.Deleted = append(rep.Deleted, st.describe(c))
		}
		delete(claims, name)
	}

	switch shape {
	case shapeShared:
		for _, c := range st.claims {
			deleteClaim(c.Name)
		}
	case shapeOrdinal:
		pods := g.handlers.Handler(KindPod)
		for _, p := range st.pods {
			if p.Status.Phase == corev1.PodRunning || IsPodReady(p) {
				continue
			}
			for _, c := range podClaims(p) {
				deleteClaim(c)
			}
			if _, err := pods.Delete(ctx, p.Name, false); err != nil {
				logger.Warn(ctx, msgSym+"/efail", "pod", p.Name, "err", err)
				rep.Errors = append(rep.Errors, err)
			}
		}
	}
	return rep
}

// declaredClaim is the storage a manifest asks for.
type declaredClaim struct {
	source       Ref
	storageClass string
	size         *resource.Quantity
}

func declaredClaims(manifests []*Manifest) (map[string]declaredClaim, error) {
	out := map[string]declaredClaim{}
	for _, m := range manifests {
		switch m.Kind {
		case KindPersistentVolumeClaim:
			var c corev1.PersistentVolumeClaim
			if err := runtime.DefaultUnstructuredConverter.FromUnstructured(m.Body.Object, &c); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Ref(), err)
			}
			out[c.Name] = declaredOf(m.Ref(), c.Spec)
		case KindStatefulSet:
			var s appsv1.StatefulSet
			if err := runtime.DefaultUnstructuredConverter.FromUnstructured(m.Body.Object, &s); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Ref(), err)
			}
			n := desiredReplicas(s.Spec.Replicas)
			for _, t := range s.Spec.VolumeClaimTemplates {
				for i := int32(0); i < n; i++ {
					out[fmt.Sprintf("%s-%s-%d", t.Name, s.Name, i)] = declaredOf(m.Ref(), t.Spec)
				}
			}
		}
	}
	return out, nil
}

func declaredOf(src Ref, spec corev1.PersistentVolumeClaimSpec) declaredClaim {
	d := declaredClaim{source: src}
	if spec.StorageClassName != nil {
		d.storageClass = *spec.StorageClassName
	}
	if q, ok := spec.Resources.Requests[corev1.ResourceStorage]; ok {
		d.size = &q
	}
	return d
}

// Inspect runs after apply. It reports claims that no pod references and no manifest declares,
// and warns when a declared storage class or size differs from the live claim. Nothing is modified.
func (g *VolumeGuard) Inspect(ctx context.Context, manifests []*Manifest) (rep *VolumeReport) {
	logger := logging.FromContext(ctx)
	msgSym := "VolumeGuard:Inspect"
	rep = &VolumeReport{}
	defer func() {
		logger.Info(ctx, msgSym+"/eok", "stale", len(rep.Stale), "warnings", len(rep.Warnings), "errors", len(rep.Errors))
	}()

	st, err := g.load(ctx, manifests)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	declared, err := declaredClaims(manifests)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	referenced := st.referenced()
	rep.Protected = sortedKeys(st.protected())

	for _, c := range st.claims {
		d, isDeclared := declared[c.Name]
		if isDeclared {
			vc := st.describe(c)
			if d.storageClass != "" && d.storageClass != vc.StorageClass {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("volume %s: claim %s has storage class %q, %s declares %q", vc.Volume, c.Name, vc.StorageClass, d.source, d.storageClass))
			}
			if d.size != nil {
				live, ok := c.Spec.Resources.Requests[corev1.ResourceStorage]
				if !ok || live.Cmp(*d.size) != 0 {
					rep.Warnings = append(rep.Warnings, fmt.Sprintf("volume %s: claim %s requests %s, %s declares %s", vc.Volume, c.Name, vc.Size, d.source, d.size.String()))
				}
			}
			continue
		}
		if referenced[c.Name] {
			continue
		}
		if _, inRange, ok := st.ordinalClaim(c.Name); ok && inRange {
			continue
		}
		rep.Stale = append(rep.Stale, st.describe(c))
	}
	for _, w := range rep.Warnings {
		logger.Warn(ctx, msgSym+":Drift", "msg", w)
	}
	return rep
}

// Retire reports every remaining claim as stale for review. Nothing is deleted.
func (g *VolumeGuard) Retire(ctx context.Context) *VolumeReport {
	logger := logging.FromContext(ctx)
	rep := &VolumeReport{}
	st, err := g.load(ctx, nil)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	for _, c := range st.claims {
		rep.Stale = append(rep.Stale, st.describe(c))
	}
	logger.Info(ctx, "VolumeGuard:Retire/eok", "stale", len(rep.Stale))
	return rep
}
