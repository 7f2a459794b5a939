package kube

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kompox/kdeploy/internal/logging"
)

// Object is a live typed resource.
type Object interface {
	metav1.Object
	runtime.Object
}

// Handler performs lifecycle operations for one kind in one namespace.
type Handler interface {
	Kind() Kind
	Weight() int
	CleanUp() bool

	// Create submits desired with a fresh last-applied annotation. A nil desired is a no-op.
	Create(ctx context.Context, desired *Manifest) (Object, error)
	// Get returns the live object. A missing object yields an error satisfying IsNotFound.
	Get(ctx context.Context, name string) (Object, error)
	// GetBySelector lists objects matching a label selector, or a field selector when isLabelSelector is false.
	GetBySelector(ctx context.Context, selector string, isLabelSelector bool) ([]Object, error)
	// Update replaces the live object with desired, creating it when absent.
	Update(ctx context.Context, desired *Manifest) (bool, error)
	// Patch merges the change since the last-applied configuration into the live object.
	// It degrades to Create when absent and to Update when no last-applied annotation exists.
	// It returns false when nothing changed.
	Patch(ctx context.Context, name string, desired *Manifest) (bool, error)
	// Delete removes the object with background propagation. A missing object yields (false, nil).
	Delete(ctx context.Context, name string, wait bool) (bool, error)
	// DeleteBySelector deletes every match. It returns false when nothing matched.
	DeleteBySelector(ctx context.Context, selector string, isLabelSelector bool, wait bool) (bool, error)
	// Status evaluates the stability of a live object of this kind.
	Status(obj Object) ResourceStatus
}

// typedClient is the subset of a client-go typed resource interface the handler needs.
type typedClient[T Object, L runtime.Object] interface {
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	List(ctx context.Context, opts metav1.ListOptions) (L, error)
	Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts metav1.PatchOptions, subresources ...string) (T, error)
}

// Delete wait bounds.
var (
	DeleteWaitInterval = 1 * time.Second
	DeleteWaitTimeout  = 60 * time.Second
)

// kindHooks customizes the generic handler per kind. Every hook is optional.
type kindHooks[T Object] struct {
	// status evaluates a live object; nil reports StatusStable.
	status func(T) ResourceStatus
	// preserve copies live fields that a full replace must keep onto desired.
	preserve func(live, desired T)
	// stripPatch removes fields the kind never patches.
	stripPatch func(doc map[string]any)
	// recreate reports whether an update must delete and recreate the object.
	recreate func(live, desired T) bool
	// afterPatch runs after every patch of an existing object, whatever its outcome.
	afterPatch func(ctx context.Context, desired T)
}

// typedHandler implements Handler over a client-go typed client.
type typedHandler[T Object, L runtime.Object] struct {
	spec   KindSpec
	client typedClient[T, L]
	newObj func() T
	items  func(L) []T
	hooks  kindHooks[T]
}

func (h *typedHandler[T, L]) Kind() Kind    { return h.spec.Kind }
func (h *typedHandler[T, L]) Weight() int   { return h.spec.Weight }
func (h *typedHandler[T, L]) CleanUp() bool { return h.spec.CleanUp }

// toTyped converts the desired body to T with the last-applied annotation set.
func (h *typedHandler[T, L]) toTyped(desired *Manifest, lastApplied []byte) (T, error) {
	obj := h.newObj()
	u := desired.Body.DeepCopy()
	ann := u.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[AnnotationKdLastApplied] = string(lastApplied)
	u.SetAnnotations(ann)
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, obj); err != nil {
		return obj, fmt.Errorf("convert %s %s: %w", h.spec.Kind, desired.Name, err)
	}
	return obj, nil
}

func (h *typedHandler[T, L]) Create(ctx context.Context, desired *Manifest) (_ Object, err error) {
	if desired == nil {
		return nil, nil
	}
	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:Create"
	logger.Debug(ctx, msgSym+"/s", "kind", h.spec.Kind, "name", desired.Name)
	defer func() {
		if err == nil {
			logger.Info(ctx, msgSym+"/eok", "kind", h.spec.Kind, "name", desired.Name)
		} else {
			logger.Info(ctx, msgSym+"/efail", "kind", h.spec.Kind, "name", desired.Name, "err", err)
		}
	}()

	la, err := LastAppliedJSON(desired.Body)
	if err != nil {
		return nil, err
	}
	obj, err := h.toTyped(desired, la)
	if err != nil {
		return nil, err
	}
	created, err := h.client.Create(ctx, obj, metav1.CreateOptions{FieldManager: FieldManager})
	if err != nil {
		return nil, opError(OpCreate, h.spec.Kind, desired.Name, err)
	}
	return created, nil
}

func (h *typedHandler[T, L]) Get(ctx context.Context, name string) (Object, error) {
	obj, err := h.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (h *typedHandler[T, L]) get(ctx context.Context, name string) (T, error) {
	obj, err := h.client.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return obj, opError(OpGet, h.spec.Kind, name, err)
	}
	return obj, nil
}

func (h *typedHandler[T, L]) GetBySelector(ctx context.Context, selector string, isLabelSelector bool) ([]Object, error) {
	opts := metav1.ListOptions{}
	if isLabelSelector {
		opts.LabelSelector = selector
	} else {
		opts.FieldSelector = selector
	}
	list, err := h.client.List(ctx, opts)
	if err != nil {
		return nil, opError(OpList, h.spec.Kind, "", err)
	}
	items := h.items(list)
	out := make([]Object, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out, nil
}

func (h *typedHandler[T, L]) Update(ctx context.Context, desired *Manifest) (bool, error) {
	if desired == nil {
		return false, nil
	}
	live, err := h.get(ctx, desired.Name)
	if IsNotFound(err) {
		if _, err := h.Create(ctx, desired); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return h.replace(ctx, desired, live)
}

// replace submits a full update of live with desired.
func (h *typedHandler[T, L]) replace(ctx context.Context, desired *Manifest, live T) (_ bool, err error) {
	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:Update"
	logger.Debug(ctx, msgSym+"/s", "kind", h.spec.Kind, "name", desired.Name)
	defer func() {
		if err == nil {
			logger.Info(ctx, msgSym+"/eok", "kind", h.spec.Kind, "name", desired.Name)
		} else {
			logger.Info(ctx, msgSym+"/efail", "kind", h.spec.Kind, "name", desired.Name, "err", err)
		}
	}()

	la, err := LastAppliedJSON(desired.Body)
	if err != nil {
		return false, err
	}
	obj, err := h.toTyped(desired, la)
	if err != nil {
		return false, err
	}
	if h.hooks.preserve != nil {
		h.hooks.preserve(live, obj)
	}
	if h.hooks.recreate != nil && h.hooks.recreate(live, obj) {
		return true, h.recreateWith(ctx, desired.Name, obj)
	}
	obj.SetResourceVersion(live.GetResourceVersion())
	if _, err := h.client.Update(ctx, obj, metav1.UpdateOptions{FieldManager: FieldManager}); err != nil {
		return false, opError(OpUpdate, h.spec.Kind, desired.Name, err)
	}
	return true, nil
}

func (h *typedHandler[T, L]) Patch(ctx context.Context, name string, desired *Manifest) (_ bool, err error) {
	if desired == nil {
		return false, nil
	}
	live, err := h.get(ctx, name)
	if err != nil && !IsNotFound(err) {
		return false, err
	}
	if h.hooks.afterPatch != nil {
		defer func() {
			if obj, cerr := h.toTyped(desired, nil); cerr == nil {
				h.hooks.afterPatch(ctx, obj)
			}
		}()
	}
	if err != nil {
		if _, err := h.Create(ctx, desired); err != nil {
			return false, err
		}
		return true, nil
	}

	prev := live.GetAnnotations()[AnnotationKdLastApplied]
	if prev == "" {
		return h.replace(ctx, desired, live)
	}

	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:Patch"
	logger.Debug(ctx, msgSym+"/s", "kind", h.spec.Kind, "name", name)
	changed := false
	defer func() {
		if err == nil {
			logger.Info(ctx, msgSym+"/eok", "kind", h.spec.Kind, "name", name, "changed", changed)
		} else {
			logger.Info(ctx, msgSym+"/efail", "kind", h.spec.Kind, "name", name, "err", err)
		}
	}()

	next, err := LastAppliedJSON(desired.Body)
	if err != nil {
		return false, err
	}
	doc, err := ComputePatch([]byte(prev), next)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", h.spec.Kind, name, err)
	}
	if h.hooks.stripPatch != nil {
		h.hooks.stripPatch(doc)
	}
	if IsEmptyPatch(doc) {
		return false, nil
	}
	if sum, derr := DescribeChanges([]byte(prev), next); derr == nil {
		logger.Debug(ctx, msgSym+":Diff", "kind", h.spec.Kind, "name", name, "summary", sum.String(), "paths", pathsBrief(sum.Paths, 8))
	}
	if h.hooks.recreate != nil {
		obj, err := h.toTyped(desired, next)
		if err != nil {
			return false, err
		}
		if h.hooks.preserve != nil {
			h.hooks.preserve(live, obj)
		}
		if h.hooks.recreate(live, obj) {
			if err := h.recreateWith(ctx, name, obj); err != nil {
				return false, err
			}
			changed = true
			return true, nil
		}
	}
	data, err := buildPatchDocument(doc, []byte(prev), next, live.GetResourceVersion())
	if err != nil {
		return false, err
	}
	if _, err := h.client.Patch(ctx, name, types.MergePatchType, data, metav1.PatchOptions{FieldManager: FieldManager}); err != nil {
		return false, opError(OpPatch, h.spec.Kind, name, err)
	}
	changed = true
	return true, nil
}

// recreateWith deletes the live object, waits until it is gone and creates obj in its place.
func (h *typedHandler[T, L]) recreateWith(ctx context.Context, name string, obj T) error {
	logging.FromContext(ctx).Info(ctx, "KubeHandler:Recreate", "kind", h.spec.Kind, "name", name)
	if _, err := h.Delete(ctx, name, true); err != nil {
		return err
	}
	if _, err := h.client.Create(ctx, obj, metav1.CreateOptions{FieldManager: FieldManager}); err != nil {
		return opError(OpCreate, h.spec.Kind, name, err)
	}
	return nil
}

func (h *typedHandler[T, L]) Delete(ctx context.Context, name string, waitGone bool) (_ bool, err error) {
	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:Delete"
	policy := metav1.DeletePropagationBackground
	err = h.client.Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		err = opError(OpDelete, h.spec.Kind, name, err)
		logger.Info(ctx, msgSym+"/efail", "kind", h.spec.Kind, "name", name, "err", err)
		return false, err
	}
	if waitGone {
		if err := h.waitDeleted(ctx, name); err != nil {
			logger.Info(ctx, msgSym+"/efail", "kind", h.spec.Kind, "name", name, "err", err)
			return true, err
		}
	}
	logger.Info(ctx, msgSym+"/eok", "kind", h.spec.Kind, "name", name)
	return true, nil
}

// waitDeleted polls until the object is gone.
func (h *typedHandler[T, L]) waitDeleted(ctx context.Context, name string) error {
	err := wait.PollUntilContextTimeout(ctx, DeleteWaitInterval, DeleteWaitTimeout, true, func(ctx context.Context) (bool, error) {
		_, err := h.client.Get(ctx, name, metav1.GetOptions{})
		if IsNotFound(err) {
			return true, nil
		}
		return false, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		return fmt.Errorf("%w: waiting for %s %s deletion", ErrTimeout, h.spec.Kind, name)
	}
	return err
}

func (h *typedHandler[T, L]) DeleteBySelector(ctx context.Context, selector string, isLabelSelector bool, waitGone bool) (bool, error) {
	objs, err := h.GetBySelector(ctx, selector, isLabelSelector)
	if err != nil {
		return false, err
	}
	if len(objs) == 0 {
		return false, nil
	}
	var errs []error
	for _, o := range objs {
		if _, err := h.Delete(ctx, o.GetName(), waitGone); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

func (h *typedHandler[T, L]) Status(obj Object) ResourceStatus {
	t, ok := obj.(T)
	if !ok || obj == nil {
		return StatusFailed
	}
	if h.hooks.status == nil {
		return StatusStable
	}
	return h.hooks.status(t)
}
