package kube

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	extjsondiff "github.com/wI2L/jsondiff"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// serverMetadataFields are populated by the API server and never part of the last-applied body.
var serverMetadataFields = []string{
	"resourceVersion",
	"uid",
	"creationTimestamp",
	"generation",
	"managedFields",
	"selfLink",
	"deletionTimestamp",
	"deletionGracePeriodSeconds",
}

// LastAppliedJSON returns the last-applied configuration recorded for a desired body.
// Status, server-populated metadata and the last-applied annotation itself are removed;
// empty maps and nulls are pruned. Map keys are emitted in sorted order.
func LastAppliedJSON(u *unstructured.Unstructured) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: body is nil", ErrPatchComputation)
	}
	m := u.DeepCopy().Object
	delete(m, "status")
	if meta, ok := m["metadata"].(map[string]any); ok {
		for _, f := range serverMetadataFields {
			delete(meta, f)
		}
		if ann, ok := meta["annotations"].(map[string]any); ok {
			delete(ann, AnnotationKdLastApplied)
		}
	}
	pruneMap(m)
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchComputation, err)
	}
	return b, nil
}

// ComputePatch returns the JSON merge patch (RFC 7386) that turns the last-applied body into the desired one.
// Arrays are replaced wholesale. The result is empty when nothing changed.
func ComputePatch(lastApplied, desired []byte) (map[string]any, error) {
	if !json.Valid(lastApplied) {
		return nil, fmt.Errorf("%w: last-applied annotation is not valid JSON", ErrPatchComputation)
	}
	raw, err := jsonpatch.CreateMergePatch(lastApplied, desired)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchComputation, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchComputation, err)
	}
	return doc, nil
}

// IsEmptyPatch reports whether the merge patch changes nothing.
func IsEmptyPatch(doc map[string]any) bool {
	return len(doc) == 0
}

// buildPatchDocument adds the live resourceVersion precondition and the rewritten
// last-applied annotation to a merge patch and serializes it.
func buildPatchDocument(doc map[string]any, lastApplied, desired []byte, resourceVersion string) ([]byte, error) {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	meta, _ := out["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	ann, isMap := meta["annotations"].(map[string]any)
	if !isMap {
		// The desired body dropped every annotation; a null would also erase the last-applied one,
		// so remove the previously applied keys individually.
		ann = map[string]any{}
		if _, present := meta["annotations"]; present {
			var prev map[string]any
			if err := json.Unmarshal(lastApplied, &prev); err == nil {
				if pa, ok, _ := unstructured.NestedMap(prev, "metadata", "annotations"); ok {
					for k := range pa {
						ann[k] = nil
					}
				}
			}
		}
	}
	ann[AnnotationKdLastApplied] = string(desired)
	meta["annotations"] = ann
	if resourceVersion != "" {
		meta["resourceVersion"] = resourceVersion
	}
	out["metadata"] = meta
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchComputation, err)
	}
	return b, nil
}

// ChangeSummary counts the field operations between two bodies.
type ChangeSummary struct {
	Added   int
	Changed int
	Removed int
	Paths   []string
}

// Empty reports whether no field changed.
func (s ChangeSummary) Empty() bool { return s.Added+s.Changed+s.Removed == 0 }

func (s ChangeSummary) String() string {
	if s.Empty() {
		return "unchanged"
	}
	return fmt.Sprintf("changed (%d additions, %d changes, %d removals)", s.Added, s.Changed, s.Removed)
}

// DescribeChanges compares two JSON bodies and summarizes the changed JSON pointer paths.
func DescribeChanges(from, to []byte) (ChangeSummary, error) {
	var s ChangeSummary
	patch, err := extjsondiff.CompareJSON(from, to)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrPatchComputation, err)
	}
	for _, op := range patch {
		switch op.Type {
		case extjsondiff.OperationAdd:
			s.Added++
		case extjsondiff.OperationReplace:
			s.Changed++
		case extjsondiff.OperationRemove:
			s.Removed++
		default:
			continue
		}
		s.Paths = append(s.Paths, op.Path)
	}
	return s, nil
}

// pathsBrief joins up to n paths for log output.
func pathsBrief(paths []string, n int) string {
	if len(paths) <= n {
		return strings.Join(paths, ",")
	}
	return strings.Join(paths[:n], ",") + fmt.Sprintf(",+%d", len(paths)-n)
}
