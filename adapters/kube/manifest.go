package kube

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

// Manifest is one desired resource produced by the upstream generation stage.
// The body is treated as read-only; preparation works on deep copies.
type Manifest struct {
	Kind Kind
	Name string
	Body *unstructured.Unstructured
}

// Ref is a kind-qualified resource name.
type Ref struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.Name }

// Ref returns the kind-qualified name of m.
func (m *Manifest) Ref() Ref { return Ref{Kind: m.Kind, Name: m.Name} }

// NewManifest wraps an unstructured body, taking kind and name from it.
func NewManifest(u *unstructured.Unstructured) (*Manifest, error) {
	if u == nil {
		return nil, fmt.Errorf("manifest body is nil")
	}
	if u.GetKind() == "" || u.GetAPIVersion() == "" {
		return nil, fmt.Errorf("manifest missing apiVersion or kind")
	}
	if u.GetName() == "" {
		return nil, fmt.Errorf("object %s missing metadata.name", u.GetKind())
	}
	return &Manifest{Kind: Kind(u.GetKind()), Name: u.GetName(), Body: u}, nil
}

// DecodeManifests parses a multi-document YAML/JSON byte stream into manifests.
// Empty documents are skipped.
func DecodeManifests(data []byte) ([]*Manifest, error) {
	var out []*Manifest
	dec := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	for {
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		u := &unstructured.Unstructured{Object: raw}
		if u.IsList() {
			list, err := u.ToList()
			if err != nil {
				return nil, fmt.Errorf("decode list: %w", err)
			}
			for i := range list.Items {
				m, err := NewManifest(&list.Items[i])
				if err != nil {
					return nil, err
				}
				out = append(out, m)
			}
			continue
		}
		m, err := NewManifest(u)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SortManifests orders manifests by kind weight ascending. Order within a weight is preserved.
// Manifests of kinds unknown to the registry sort last.
func SortManifests(reg *Registry, manifests []*Manifest) []*Manifest {
	out := append([]*Manifest(nil), manifests...)
	weight := func(m *Manifest) int {
		if s, ok := reg.Spec(m.Kind); ok {
			return s.Weight
		}
		return int(^uint(0) >> 1)
	}
	sort.SliceStable(out, func(i, j int) bool { return weight(out[i]) < weight(out[j]) })
	return out
}

// DesiredNames maps each kind to the set of names present in manifests.
func DesiredNames(manifests []*Manifest) map[Kind]map[string]struct{} {
	out := map[Kind]map[string]struct{}{}
	for _, m := range manifests {
		if m == nil {
			continue
		}
		if out[m.Kind] == nil {
			out[m.Kind] = map[string]struct{}{}
		}
		out[m.Kind][m.Name] = struct{}{}
	}
	return out
}

// PrepareManifests validates manifests against the registry and returns stamped deep copies.
// Stamping sets the target namespace on namespaced kinds, adds ownership labels to the object,
// its pod template and its volume claim templates, and records the config hash on pod templates.
func PrepareManifests(reg *Registry, target Target, manifests []*Manifest) ([]*Manifest, error) {
	seen := map[Ref]struct{}{}
	ns := target.ResolvedNamespace()
	owner := target.Labels()

	out := make([]*Manifest, 0, len(manifests))
	for _, m := range manifests {
		if m == nil || m.Body == nil {
			continue
		}
		spec, ok := reg.Spec(m.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedKind, m.Kind, m.Name)
		}
		if gv := m.Body.GroupVersionKind().GroupVersion(); gv != spec.GroupVersion {
			return nil, fmt.Errorf("%w: %s %s has apiVersion %s, want %s", ErrUnsupportedKind, m.Kind, m.Name, gv, spec.GroupVersion)
		}
		if _, dup := seen[m.Ref()]; dup {
			return nil, fmt.Errorf("duplicate manifest %s", m.Ref())
		}
		seen[m.Ref()] = struct{}{}

		u := m.Body.DeepCopy()
		if spec.Namespaced {
			if cur := u.GetNamespace(); cur != "" && cur != ns {
				return nil, fmt.Errorf("manifest %s targets namespace %q, want %q", m.Ref(), cur, ns)
			}
			u.SetNamespace(ns)
		} else {
			u.SetNamespace("")
		}
		u.SetLabels(mergeLabels(u.GetLabels(), owner))
		if err := stampTemplates(u, owner); err != nil {
			return nil, fmt.Errorf("stamp %s: %w", m.Ref(), err)
		}
		out = append(out, &Manifest{Kind: m.Kind, Name: m.Name, Body: u})
	}
	if err := StampConfigHashes(out); err != nil {
		return nil, err
	}
	return out, nil
}

// stampTemplates adds ownership labels to nested pod and claim templates.
func stampTemplates(u *unstructured.Unstructured, owner map[string]string) error {
	if tpl, found, err := unstructured.NestedMap(u.Object, "spec", "template"); err != nil {
		return err
	} else if found {
		l, _, _ := unstructured.NestedStringMap(tpl, "metadata", "labels")
		if err := unstructured.SetNestedStringMap(tpl, mergeLabels(l, owner), "metadata", "labels"); err != nil {
			return err
		}
		if err := unstructured.SetNestedMap(u.Object, tpl, "spec", "template"); err != nil {
			return err
		}
	}
	vcts, found, err := unstructured.NestedSlice(u.Object, "spec", "volumeClaimTemplates")
	if err != nil || !found {
		return err
	}
	for i, v := range vcts {
		vm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		l, _, _ := unstructured.NestedStringMap(vm, "metadata", "labels")
		if err := unstructured.SetNestedStringMap(vm, mergeLabels(l, owner), "metadata", "labels"); err != nil {
			return err
		}
		vcts[i] = vm
	}
	return unstructured.SetNestedSlice(u.Object, vcts, "spec", "volumeClaimTemplates")
}

// mergeLabels returns base overlaid with owner. Owner keys always win.
func mergeLabels(base, owner map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(owner))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range owner {
		out[k] = v
	}
	return out
}
