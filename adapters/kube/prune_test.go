package kube_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/kompox/kdeploy/adapters/kube"
)

func pruneFixture() []runtime.Object {
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: testNS, Labels: ownerLabels()}}
	sc := &storagev1.StorageClass{ObjectMeta: metav1.ObjectMeta{Name: "fast", Labels: ownerLabels()}}
	foreign := newConfigMap("foreign", nil)
	foreign.Labels = map[string]string{"team": "x"}
	return []runtime.Object{
		newConfigMap("cfg-a", nil),
		newConfigMap("cfg-b", nil),
		foreign,
		svc,
		sc,
		newDeployment("web", 1),
		newDeployment("old", 1),
		newClaim("data", "standard", "1Gi"),
	}
}

func TestPruneStale(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset(pruneFixture()...)
	hs := handlersFor(cs)
	desired := []*kube.Manifest{
		mustManifest(t, newConfigMap("cfg-a", nil)),
		mustManifest(t, newDeployment("web", 1)),
	}

	res := kube.PruneStale(ctx, hs, desired, testTarget.Selector())
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}
	want := []kube.Ref{
		{Kind: kube.KindConfigMap, Name: "cfg-b"},
		{Kind: kube.KindService, Name: "web"},
		{Kind: kube.KindDeployment, Name: "old"},
	}
	if diff := cmp.Diff(want, res.Deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if _, err := cs.CoreV1().PersistentVolumeClaims(testNS).Get(ctx, "data", metav1.GetOptions{}); err != nil {
		t.Errorf("claim must be left to the volume guard: %v", err)
	}
	if _, err := cs.StorageV1().StorageClasses().Get(ctx, "fast", metav1.GetOptions{}); err != nil {
		t.Errorf("storage class must never be pruned: %v", err)
	}
	if _, err := cs.CoreV1().ConfigMaps(testNS).Get(ctx, "foreign", metav1.GetOptions{}); err != nil {
		t.Errorf("unowned object deleted: %v", err)
	}
}

func TestPruneStale_RemovedBetweenDeployments(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset()
	hs := handlersFor(cs)
	n := []*kube.Manifest{
		mustManifest(t, newConfigMap("a", nil)),
		mustManifest(t, newConfigMap("b", nil)),
	}
	for _, m := range n {
		if _, err := hs.Handler(m.Kind).Patch(ctx, m.Name, m); err != nil {
			t.Fatal(err)
		}
	}
	if res := kube.PruneStale(ctx, hs, n, testTarget.Selector()); len(res.Deleted) != 0 {
		t.Fatalf("first pass deleted %v", res.Deleted)
	}
	res := kube.PruneStale(ctx, hs, n[:1], testTarget.Selector())
	if diff := cmp.Diff([]kube.Ref{{Kind: kube.KindConfigMap, Name: "b"}}, res.Deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneStale_ContinuesOnError(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset(pruneFixture()...)
	cs.PrependReactor("delete", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewInternalError(errors.New("boom"))
	})
	res := kube.PruneStale(ctx, handlersFor(cs), nil, testTarget.Selector())
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], kube.ErrDelete) {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	// Everything owned except the claim, the storage class and the failing service.
	if len(res.Deleted) != 4 {
		t.Errorf("deleted %v", res.Deleted)
	}
}

func TestPruneStale_KeepsControllerManagedPods(t *testing.T) {
	ctx := context.Background()
	owned := newPod("web-abc-123", corev1.PodRunning, true)
	isController := true
	owned.OwnerReferences = []metav1.OwnerReference{{
		APIVersion: "apps/v1",
		Kind:       "ReplicaSet",
		Name:       "web-abc",
		UID:        "rs-uid",
		Controller: &isController,
	}}
	bare := newPod("debug", corev1.PodRunning, true)
	cs := fake.NewSimpleClientset(newDeployment("web", 1), owned, bare)

	res := kube.PruneStale(ctx, handlersFor(cs), []*kube.Manifest{mustManifest(t, newDeployment("web", 1))}, testTarget.Selector())
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}
	if diff := cmp.Diff([]kube.Ref{{Kind: kube.KindPod, Name: "debug"}}, res.Deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if _, err := cs.CoreV1().Pods(testNS).Get(ctx, "web-abc-123", metav1.GetOptions{}); err != nil {
		t.Errorf("controller managed pod deleted: %v", err)
	}
}
