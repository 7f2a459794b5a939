package kube_test

import (
	"context"
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kompox/kdeploy/adapters/kube"
)

func TestEnsureNamespace(t *testing.T) {
	ctx := context.Background()
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "shared", Labels: map[string]string{"team": "x"}}}
	cs := fake.NewSimpleClientset(existing)
	c := kube.NewClient(cs)
	labels := map[string]string{kube.LabelKdApplication: "app1", "team": "y"}

	if err := c.EnsureNamespace(ctx, "fresh", labels); err != nil {
		t.Fatalf("create: %v", err)
	}
	ns, err := cs.CoreV1().Namespaces().Get(ctx, "fresh", metav1.GetOptions{})
	if err != nil || ns.Labels[kube.LabelKdApplication] != "app1" {
		t.Fatalf("unexpected namespace %v %v", ns, err)
	}

	if err := c.EnsureNamespace(ctx, "shared", labels); err != nil {
		t.Fatalf("existing: %v", err)
	}
	ns, _ = cs.CoreV1().Namespaces().Get(ctx, "shared", metav1.GetOptions{})
	if ns.Labels["team"] != "x" || ns.Labels[kube.LabelKdApplication] != "app1" {
		t.Errorf("labels = %v", ns.Labels)
	}

	if err := c.EnsureNamespace(ctx, "", nil); err == nil {
		t.Errorf("expected error for empty name")
	}
}

func TestTailPodLogs(t *testing.T) {
	pod := newPod("web-1", corev1.PodRunning, false)
	c := kube.NewClient(fake.NewSimpleClientset(pod))
	out, err := c.TailPodLogs(context.Background(), pod, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "==> web-1/app <==") || !strings.Contains(out, "fake logs") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := c.TailPodLogs(context.Background(), &corev1.Pod{}, 5); err == nil {
		t.Errorf("expected error for unnamed pod")
	}
}

func TestClientNotInitialized(t *testing.T) {
	var c *kube.Client
	if err := c.EnsureNamespace(context.Background(), "x", nil); err == nil {
		t.Errorf("expected error")
	}
	if _, err := c.Handlers(kube.NewRegistry(), "x"); err == nil {
		t.Errorf("expected error")
	}
}
