package kube

import (
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/kompox/kdeploy/internal/naming"
)

// ComputeContentHash returns a 6 character hash of the key/value pairs, independent of map order.
func ComputeContentHash(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kv[k])
		b.WriteByte(0)
	}
	return naming.ShortHash(b.String(), 6)
}

// configContent holds content hashes of desired ConfigMaps and Secrets by name.
type configContent struct {
	configMaps map[string]string
	secrets    map[string]string
}

func collectConfigContent(manifests []*Manifest) configContent {
	cc := configContent{configMaps: map[string]string{}, secrets: map[string]string{}}
	for _, m := range manifests {
		switch m.Kind {
		case KindConfigMap:
			kv := map[string]string{}
			if d, ok, _ := unstructured.NestedStringMap(m.Body.Object, "data"); ok {
				for k, v := range d {
					kv["d:"+k] = v
				}
			}
			if d, ok, _ := unstructured.NestedStringMap(m.Body.Object, "binaryData"); ok {
				for k, v := range d {
					kv["b:"+k] = v
				}
			}
			cc.configMaps[m.Name] = ComputeContentHash(kv)
		case KindSecret:
			kv := map[string]string{}
			if d, ok, _ := unstructured.NestedStringMap(m.Body.Object, "data"); ok {
				for k, v := range d {
					kv["d:"+k] = v
				}
			}
			if d, ok, _ := unstructured.NestedStringMap(m.Body.Object, "stringData"); ok {
				for k, v := range d {
					kv["s:"+k] = v
				}
			}
			if t, ok, _ := unstructured.NestedString(m.Body.Object, "type"); ok {
				kv["type"] = t
			}
			cc.secrets[m.Name] = ComputeContentHash(kv)
		}
	}
	return cc
}

// ComputePodConfigHash returns the aggregate hash of the desired ConfigMaps and Secrets a pod spec references.
// Segments are ordered: imagePullSecrets, envFrom and env valueFrom (containers sorted by name),
// then volumes in declaration order including projected sources.
// Referenced objects not in the desired set contribute an empty segment.
// It returns "" when the pod spec references nothing.
func ComputePodConfigHash(podSpec *corev1.PodSpec, cc configContent) string {
	if podSpec == nil {
		return ""
	}
	var segments []string
	cm := func(name string) {
		if name != "" {
			segments = append(segments, "cm/"+name+"="+cc.configMaps[name])
		}
	}
	sec := func(name string) {
		if name != "" {
			segments = append(segments, "secret/"+name+"="+cc.secrets[name])
		}
	}
	for _, ips := range podSpec.ImagePullSecrets {
		sec(ips.Name)
	}
	ctns := append([]corev1.Container{}, podSpec.InitContainers...)
	ctns = append(ctns, podSpec.Containers...)
	sort.SliceStable(ctns, func(i, j int) bool { return ctns[i].Name < ctns[j].Name })
	for _, ctn := range ctns {
		for _, ef := range ctn.EnvFrom {
			if ef.SecretRef != nil {
				sec(ef.SecretRef.Name)
			}
			if ef.ConfigMapRef != nil {
				cm(ef.ConfigMapRef.Name)
			}
		}
		for _, ev := range ctn.Env {
			if ev.ValueFrom == nil {
				continue
			}
			if ev.ValueFrom.SecretKeyRef != nil {
				sec(ev.ValueFrom.SecretKeyRef.Name)
			}
			if ev.ValueFrom.ConfigMapKeyRef != nil {
				cm(ev.ValueFrom.ConfigMapKeyRef.Name)
			}
		}
	}
	for _, vol := range podSpec.Volumes {
		if vol.Secret != nil {
			sec(vol.Secret.SecretName)
		}
		if vol.ConfigMap != nil {
			cm(vol.ConfigMap.Name)
		}
		if vol.Projected != nil {
			for _, src := range vol.Projected.Sources {
				if src.Secret != nil {
					sec(src.Secret.Name)
				}
				if src.ConfigMap != nil {
					cm(src.ConfigMap.Name)
				}
			}
		}
	}
	if len(segments) == 0 {
		return ""
	}
	return naming.ShortHash(strings.Join(segments, "\x00"), 6)
}

// StampConfigHashes sets AnnotationKdConfigHash on the pod template of every workload manifest
// whose pod spec references ConfigMaps or Secrets. Manifests are modified in place.
func StampConfigHashes(manifests []*Manifest) error {
	cc := collectConfigContent(manifests)
	for _, m := range manifests {
		if !m.Kind.HasPodTemplate() {
			continue
		}
		tpl, found, err := unstructured.NestedMap(m.Body.Object, "spec", "template")
		if err != nil {
			return fmt.Errorf("%s: %w", m.Ref(), err)
		}
		if !found {
			continue
		}
		var pts corev1.PodTemplateSpec
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(tpl, &pts); err != nil {
			return fmt.Errorf("%s: pod template: %w", m.Ref(), err)
		}
		h := ComputePodConfigHash(&pts.Spec, cc)
		if h == "" {
			continue
		}
		ann, _, _ := unstructured.NestedStringMap(tpl, "metadata", "annotations")
		if ann == nil {
			ann = map[string]string{}
		}
		ann[AnnotationKdConfigHash] = h
		if err := unstructured.SetNestedStringMap(m.Body.Object, ann, "spec", "template", "metadata", "annotations"); err != nil {
			return fmt.Errorf("%s: %w", m.Ref(), err)
		}
	}
	return nil
}
