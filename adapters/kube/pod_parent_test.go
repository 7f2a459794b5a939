package kube_test

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kompox/kdeploy/adapters/kube"
)

func TestResolvePodParent(t *testing.T) {
	ctx := context.Background()
	ds := &appsv1.DaemonSet{ObjectMeta: metav1.ObjectMeta{Name: "agent", Namespace: testNS, Labels: ownerLabels()}}
	sts := newStatefulSet("db", 1, "data")
	dep := newDeployment("web", 2)

	tests := []struct {
		name     string
		objs     []runtime.Object
		wantKind kube.Kind
		wantName string
	}{
		{"none", nil, "", ""},
		{"daemonset only", []runtime.Object{ds}, kube.KindDaemonSet, "agent"},
		{"statefulset before daemonset", []runtime.Object{ds, sts}, kube.KindStatefulSet, "db"},
		{"deployment first", []runtime.Object{ds, sts, dep}, kube.KindDeployment, "web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := handlersFor(fake.NewSimpleClientset(tt.objs...))
			p, err := kube.ResolvePodParent(ctx, hs, testTarget.Selector())
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantKind == "" {
				if p != nil {
					t.Fatalf("expected no parent, got %v", p.Ref())
				}
				return
			}
			if p == nil || p.Kind != tt.wantKind || p.Name() != tt.wantName {
				t.Fatalf("got %v, want %s/%s", p, tt.wantKind, tt.wantName)
			}
		})
	}
}

func TestResolvePodParent_FirstByName(t *testing.T) {
	hs := handlersFor(fake.NewSimpleClientset(newDeployment("web-b", 1), newDeployment("web-a", 1)))
	p, err := kube.ResolvePodParent(context.Background(), hs, testTarget.Selector())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "web-a" {
		t.Errorf("got %s, want web-a", p.Name())
	}
}

func TestResolvePodParents(t *testing.T) {
	ctx := context.Background()
	api := newDeployment("api", 1)
	api.Labels = testTarget.WithService("api").Labels()
	web := newDeployment("web", 1)
	db := newStatefulSet("db", 1, "data")
	db.Labels = testTarget.WithService("db").Labels()
	otherApp := newDeployment("foreign", 1)
	otherApp.Labels = kube.Target{Application: "app2", Environment: "prod", Service: "web"}.Labels()

	hs := handlersFor(fake.NewSimpleClientset(web, db, api, otherApp))
	parents, err := kube.ResolvePodParents(ctx, hs, testTarget.AppSelector())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, p := range parents {
		got = append(got, p.Ref().String())
	}
	want := []string{"Deployment/api", "Deployment/web", "StatefulSet/db"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parents[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPodParent_Pods(t *testing.T) {
	ctx := context.Background()
	mine := newPod("web-1", corev1.PodRunning, true)
	mine.Labels = map[string]string{"app": "web"}
	other := newPod("api-1", corev1.PodRunning, true)
	other.Labels = map[string]string{"app": "api"}
	hs := handlersFor(fake.NewSimpleClientset(newDeployment("web", 1), mine, other))

	p, err := kube.ResolvePodParent(ctx, hs, testTarget.Selector())
	if err != nil || p == nil {
		t.Fatalf("resolve: %v %v", p, err)
	}
	pods, err := p.Pods(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pods) != 1 || pods[0].Name != "web-1" {
		t.Errorf("unexpected pods %v", pods)
	}
	desired, ready := p.Replicas()
	if desired != 1 || ready != 0 {
		t.Errorf("replicas = %d/%d", ready, desired)
	}
}
