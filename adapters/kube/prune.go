package kube

import (
	"context"
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kompox/kdeploy/internal/logging"
)

// PruneResult lists what a stale resource pass deleted and what it could not.
type PruneResult struct {
	Deleted []Ref
	Errors  []error
}

// Err joins the collected errors.
func (r *PruneResult) Err() error { return errors.Join(r.Errors...) }

// PruneStale deletes live objects matching selector whose names are absent from manifests.
// Kinds are visited by weight ascending; kinds without CleanUp and claims are skipped.
// Objects managed by a controller, such as the pods of a ReplicaSet, are left to it.
// Failures are collected and never stop the pass.
func PruneStale(ctx context.Context, hs *HandlerSet, manifests []*Manifest, selector string) *PruneResult {
	logger := logging.FromContext(ctx)
	msgSym := "KubeHandler:PruneStale"
	desired := DesiredNames(manifests)
	res := &PruneResult{}
	logger.Debug(ctx, msgSym+"/s", "selector", selector)

	for _, k := range hs.Registry().Kinds() {
		spec, _ := hs.Registry().Spec(k)
		if !spec.CleanUp || k == KindPersistentVolumeClaim {
			continue
		}
		h := hs.Handler(k)
		live, err := h.GetBySelector(ctx, selector, true)
		if err != nil {
			logger.Warn(ctx, msgSym+"/efail", "kind", k, "err", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		for _, o := range live {
			if _, keep := desired[k][o.GetName()]; keep {
				continue
			}
			if metav1.GetControllerOf(o) != nil {
				continue
			}
			deleted, err := h.Delete(ctx, o.GetName(), false)
			if err != nil {
				logger.Warn(ctx, msgSym+"/efail", "kind", k, "name", o.GetName(), "err", err)
				res.Errors = append(res.Errors, err)
				continue
			}
			if deleted {
				res.Deleted = append(res.Deleted, Ref{Kind: k, Name: o.GetName()})
			}
		}
	}
	logger.Info(ctx, msgSym+"/eok", "deleted", len(res.Deleted), "errors", len(res.Errors))
	return res
}
