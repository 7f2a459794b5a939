package deploy_test

import (
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/adapters/store/inmem"
	"github.com/kompox/kdeploy/usecase/deploy"
)

const testNS = "app1-prod"

var testTarget = kube.Target{Application: "app1", Environment: "prod", Service: "web"}

type fixture struct {
	uc   *deploy.UseCase
	cs   *fake.Clientset
	repo *inmem.DeploymentRepository
}

func newFixture(t *testing.T, objs ...runtime.Object) *fixture {
	t.Helper()
	cs := fake.NewSimpleClientset(objs...)
	repo := inmem.NewDeploymentRepository()
	uc := deploy.New(kube.NewClient(cs), &deploy.Repos{Deployment: repo})
	uc.PollInterval = 10 * time.Millisecond
	uc.WaitTimeout = 200 * time.Millisecond
	return &fixture{uc: uc, cs: cs, repo: repo}
}

// settleDeployments makes every created or updated Deployment report a finished rollout.
func (f *fixture) settleDeployments() {
	settle := func(a k8stesting.Action) (bool, runtime.Object, error) {
		var obj runtime.Object
		switch a := a.(type) {
		case k8stesting.CreateAction:
			obj = a.GetObject()
		case k8stesting.UpdateAction:
			obj = a.GetObject()
		}
		if d, ok := obj.(*appsv1.Deployment); ok {
			n := *d.Spec.Replicas
			d.Status = appsv1.DeploymentStatus{ObservedGeneration: d.Generation, Replicas: n, UpdatedReplicas: n, ReadyReplicas: n, AvailableReplicas: n}
		}
		return false, nil, nil
	}
	f.cs.PrependReactor("create", "deployments", settle)
	f.cs.PrependReactor("update", "deployments", settle)
}

func mustManifest(t *testing.T, obj runtime.Object) *kube.Manifest {
	t.Helper()
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		t.Fatalf("to unstructured: %v", err)
	}
	mf, err := kube.NewManifest(&unstructured.Unstructured{Object: m})
	if err != nil {
		t.Fatalf("new manifest: %v", err)
	}
	return mf
}

func int32p(v int32) *int32 { return &v }

func deploymentManifest(name string, replicas int32) *appsv1.Deployment {
	sel := map[string]string{"app": name}
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32p(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: sel},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: sel},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "nginx:1.27"}}},
			},
		},
	}
}

// liveDeployment is a Deployment already in the cluster, owned by service.
func liveDeployment(service string, status appsv1.DeploymentStatus) *appsv1.Deployment {
	d := deploymentManifest(service, 2)
	d.Namespace = testNS
	d.Labels = testTarget.WithService(service).Labels()
	d.Status = status
	return d
}

func stableStatus(n int32) appsv1.DeploymentStatus {
	return appsv1.DeploymentStatus{Replicas: n, UpdatedReplicas: n, ReadyReplicas: n, AvailableReplicas: n}
}

func configMapManifest(name string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Data:       data,
	}
}

func claimManifest(name string) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1Gi")},
			},
		},
	}
}

// crashingPod is a not-ready pod of the service selected by the Deployment named service.
// replicaPod is a pod of service created by a ReplicaSet of its Deployment.
func replicaPod(name, service string, ready bool) *corev1.Pod {
	l := testTarget.WithService(service).Labels()
	l["app"] = service
	cond := corev1.ConditionFalse
	if ready {
		cond = corev1.ConditionTrue
	}
	isController := true
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNS,
			Labels:    l,
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: "apps/v1",
				Kind:       "ReplicaSet",
				Name:       service + "-abc",
				UID:        types.UID("rs-" + service),
				Controller: &isController,
			}},
		},
		Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "nginx:1.27"}}},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: cond}},
		},
	}
}

func crashingPod(name, service string) *corev1.Pod {
	p := replicaPod(name, service, false)
	p.Status.ContainerStatuses = []corev1.ContainerStatus{{
		Name:  "app",
		State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}},
	}}
	return p
}

func refs(rs []kube.Ref) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}

// countVerb counts recorded actions with verb on resource.
func countVerb(cs *fake.Clientset, verb, res string) int {
	n := 0
	for _, a := range cs.Actions() {
		if a.GetVerb() == verb && a.GetResource().Resource == res {
			n++
		}
	}
	return n
}
