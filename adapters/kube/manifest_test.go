package kube_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kompox/kdeploy/adapters/kube"
)

const multiDoc = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  A: "1"
---
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  selector:
    matchLabels: {app: web}
  template:
    metadata:
      labels: {app: web}
    spec:
      containers:
      - name: app
        image: nginx:1.27
        envFrom:
        - configMapRef: {name: cfg}
---
apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: db
spec:
  selector:
    matchLabels: {app: db}
  template:
    metadata:
      labels: {app: db}
    spec:
      containers:
      - name: db
        image: postgres:16
  volumeClaimTemplates:
  - metadata:
      name: data
    spec:
      accessModes: [ReadWriteOnce]
      resources:
        requests:
          storage: 1Gi
`

func TestDecodeManifests(t *testing.T) {
	ms, err := kube.DecodeManifests([]byte(multiDoc))
	if err != nil {
		t.Fatal(err)
	}
	var refs []string
	for _, m := range ms {
		refs = append(refs, m.Ref().String())
	}
	if diff := cmp.Diff([]string{"ConfigMap/cfg", "Deployment/web", "StatefulSet/db"}, refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeManifests_MissingName(t *testing.T) {
	_, err := kube.DecodeManifests([]byte("apiVersion: v1\nkind: ConfigMap\nmetadata: {}\n"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPrepareManifests_Stamps(t *testing.T) {
	reg := kube.NewRegistry()
	ms, err := kube.DecodeManifests([]byte(multiDoc))
	if err != nil {
		t.Fatal(err)
	}
	out, err := kube.PrepareManifests(reg, testTarget, ms)
	if err != nil {
		t.Fatal(err)
	}
	owner := testTarget.Labels()
	for _, m := range out {
		if m.Body.GetNamespace() != testNS {
			t.Errorf("%s namespace = %q", m.Ref(), m.Body.GetNamespace())
		}
		for k, v := range owner {
			if m.Body.GetLabels()[k] != v {
				t.Errorf("%s missing label %s", m.Ref(), k)
			}
		}
	}
	// Inputs stay untouched.
	if ms[0].Body.GetNamespace() != "" || len(ms[0].Body.GetLabels()) != 0 {
		t.Errorf("input manifest modified")
	}

	tplLabels, _, _ := unstructured.NestedStringMap(out[1].Body.Object, "spec", "template", "metadata", "labels")
	if tplLabels["app"] != "web" || tplLabels[kube.LabelKdService] != "web" {
		t.Errorf("pod template labels = %v", tplLabels)
	}
	hash, _, _ := unstructured.NestedString(out[1].Body.Object, "spec", "template", "metadata", "annotations", kube.AnnotationKdConfigHash)
	if len(hash) != 6 {
		t.Errorf("config hash = %q", hash)
	}
	if _, found, _ := unstructured.NestedString(out[2].Body.Object, "spec", "template", "metadata", "annotations", kube.AnnotationKdConfigHash); found {
		t.Errorf("statefulset without config refs got a hash")
	}
	vcts, _, _ := unstructured.NestedSlice(out[2].Body.Object, "spec", "volumeClaimTemplates")
	vl, _, _ := unstructured.NestedStringMap(vcts[0].(map[string]any), "metadata", "labels")
	if vl[kube.LabelKdApplication] != "app1" {
		t.Errorf("claim template labels = %v", vl)
	}
}

func TestPrepareManifests_ConfigHashFollowsContent(t *testing.T) {
	reg := kube.NewRegistry()
	hashFor := func(val string) string {
		t.Helper()
		ms, err := kube.DecodeManifests([]byte(strings.Replace(multiDoc, `A: "1"`, `A: "`+val+`"`, 1)))
		if err != nil {
			t.Fatal(err)
		}
		out, err := kube.PrepareManifests(reg, testTarget, ms)
		if err != nil {
			t.Fatal(err)
		}
		h, _, _ := unstructured.NestedString(out[1].Body.Object, "spec", "template", "metadata", "annotations", kube.AnnotationKdConfigHash)
		return h
	}
	if hashFor("1") != hashFor("1") {
		t.Errorf("hash not deterministic")
	}
	if hashFor("1") == hashFor("2") {
		t.Errorf("hash did not change with config content")
	}
}

func TestPrepareManifests_Rejects(t *testing.T) {
	reg := kube.NewRegistry()
	job := &unstructured.Unstructured{Object: map[string]any{"apiVersion": "batch/v1", "kind": "Job", "metadata": map[string]any{"name": "j"}}}
	wrongGV := &unstructured.Unstructured{Object: map[string]any{"apiVersion": "extensions/v1beta1", "kind": "Deployment", "metadata": map[string]any{"name": "d"}}}
	otherNS := newConfigMap("cfg", nil)
	otherNS.Namespace = "elsewhere"

	tests := []struct {
		name        string
		in          []*kube.Manifest
		unsupported bool
	}{
		{"unknown kind", []*kube.Manifest{{Kind: "Job", Name: "j", Body: job}}, true},
		{"wrong group version", []*kube.Manifest{{Kind: kube.KindDeployment, Name: "d", Body: wrongGV}}, true},
		{"duplicate", []*kube.Manifest{mustManifest(t, newConfigMap("cfg", nil)), mustManifest(t, newConfigMap("cfg", nil))}, false},
		{"foreign namespace", []*kube.Manifest{mustManifest(t, otherNS)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kube.PrepareManifests(reg, testTarget, tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, kube.ErrUnsupportedKind); got != tt.unsupported {
				t.Errorf("ErrUnsupportedKind = %v, err %v", got, err)
			}
		})
	}
}

func TestSortManifests(t *testing.T) {
	reg := kube.NewRegistry()
	in := []*kube.Manifest{
		mustManifest(t, newDeployment("web", 1)),
		mustManifest(t, &corev1.Service{TypeMeta: typeMeta("v1", "Service"), ObjectMeta: metav1.ObjectMeta{Name: "svc"}}),
		mustManifest(t, newConfigMap("b", nil)),
		mustManifest(t, newStatefulSet("db", 1, "data")),
		mustManifest(t, newConfigMap("a", nil)),
	}
	var got []string
	for _, m := range kube.SortManifests(reg, in) {
		got = append(got, m.Ref().String())
	}
	want := []string{"ConfigMap/b", "ConfigMap/a", "Service/svc", "Deployment/web", "StatefulSet/db"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildCleanManifest(t *testing.T) {
	d := newDeployment("web", 1)
	d.Status = appsv1.DeploymentStatus{Replicas: 1}
	out, err := kube.BuildCleanManifest([]*kube.Manifest{mustManifest(t, d)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "---\n") || strings.Contains(out, "status:") || strings.Contains(out, "creationTimestamp") {
		t.Errorf("unexpected manifest:\n%s", out)
	}
}
