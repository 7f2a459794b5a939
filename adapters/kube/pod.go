package kube

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// DefaultTailLines is the number of log lines TailPodLogs reads when lines <= 0.
const DefaultTailLines int64 = 20

// maxTailBytes bounds the log text captured per container.
const maxTailBytes int64 = 16 * 1024

// TailPodLogs returns the last lines of each container of a pod, prefixed by container name.
// Containers whose logs cannot be read are noted inline.
func (c *Client) TailPodLogs(ctx context.Context, pod *corev1.Pod, lines int64) (string, error) {
	if c == nil || c.Clientset == nil {
		return "", fmt.Errorf("kube client is not initialized")
	}
	if pod == nil || pod.Name == "" || pod.Namespace == "" {
		return "", fmt.Errorf("namespace and pod name are required")
	}
	if lines <= 0 {
		lines = DefaultTailLines
	}
	var b strings.Builder
	for _, ctn := range pod.Spec.Containers {
		fmt.Fprintf(&b, "==> %s/%s <==\n", pod.Name, ctn.Name)
		text, err := c.containerLogs(ctx, pod.Namespace, pod.Name, ctn.Name, lines)
		if err != nil {
			fmt.Fprintf(&b, "(logs unavailable: %v)\n", err)
			continue
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func (c *Client) containerLogs(ctx context.Context, namespace, pod, container string, lines int64) (string, error) {
	limit := maxTailBytes
	opts := &corev1.PodLogOptions{Container: container, TailLines: &lines, LimitBytes: &limit}
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	stream, err := c.Clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(connCtx)
	if err != nil {
		return "", fmt.Errorf("get logs stream: %w", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(io.LimitReader(stream, limit))
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(data), nil
}
