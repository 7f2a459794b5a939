package deploy

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"

	"github.com/kompox/kdeploy/adapters/kube"
	"github.com/kompox/kdeploy/internal/logging"
)

// ServiceStatusInput represents a query for the status of one service.
type ServiceStatusInput struct {
	Target kube.Target `json:"target"`
}

// ServiceStatusOutput represents the observed status of one service.
type ServiceStatusOutput struct {
	Service string `json:"service"`
	// Deployed reports whether a workload controller exists for the service.
	Deployed      bool                `json:"deployed"`
	Workload      kube.Ref            `json:"workload"`
	Status        kube.ResourceStatus `json:"status,omitempty"`
	Replicas      int32               `json:"replicas"`
	ReadyReplicas int32               `json:"readyReplicas"`
	// Address is where the service is reachable: ingress URLs, a load balancer or the cluster IP.
	Address string `json:"address,omitempty"`
	// Message summarizes why pods are not ready.
	Message string `json:"message,omitempty"`
}

// ServiceStatus returns the status of the service's workload controller. It never
// mutates the cluster. Non-STABLE results are meant for an external diagnosis step.
func (u *UseCase) ServiceStatus(ctx context.Context, in *ServiceStatusInput) (*ServiceStatusOutput, error) {
	if in == nil {
		return nil, fmt.Errorf("ServiceStatusInput is required")
	}
	if in.Target.Service == "" {
		return nil, fmt.Errorf("ServiceStatusInput.Target.Service is required")
	}
	hs, err := u.handlers(in.Target)
	if err != nil {
		return nil, err
	}
	return serviceStatus(ctx, hs, in.Target)
}

func serviceStatus(ctx context.Context, hs *kube.HandlerSet, target kube.Target) (*ServiceStatusOutput, error) {
	selector := target.Selector()
	out := &ServiceStatusOutput{Service: target.Service}
	parent, err := kube.ResolvePodParent(ctx, hs, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workload of %s: %w", target.Service, err)
	}
	if parent != nil {
		out.Deployed = true
		out.Workload = parent.Ref()
		out.Status = parent.Status()
		out.Replicas, out.ReadyReplicas = parent.Replicas()
		if out.Status != kube.StatusStable {
			out.Message = podsMessage(ctx, parent)
		}
	}
	addr, err := serviceAddress(ctx, hs, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address of %s: %w", target.Service, err)
	}
	out.Address = addr
	return out, nil
}

// serviceAddress prefers ingress URLs, then load balancer endpoints, then the cluster IP.
func serviceAddress(ctx context.Context, hs *kube.HandlerSet, selector string) (string, error) {
	ings, err := hs.Handler(kube.KindIngress).GetBySelector(ctx, selector, true)
	if err != nil {
		return "", err
	}
	var urls []string
	for _, o := range ings {
		if ing, ok := o.(*networkingv1.Ingress); ok {
			urls = append(urls, ingressURLs(ing)...)
		}
	}
	if len(urls) > 0 {
		sort.Strings(urls)
		return strings.Join(urls, ","), nil
	}

	svcs, err := hs.Handler(kube.KindService).GetBySelector(ctx, selector, true)
	if err != nil {
		return "", err
	}
	var clusterAddr string
	for _, o := range svcs {
		svc, ok := o.(*corev1.Service)
		if !ok {
			continue
		}
		port := ""
		if len(svc.Spec.Ports) > 0 {
			port = strconv.Itoa(int(svc.Spec.Ports[0].Port))
		}
		for _, lb := range svc.Status.LoadBalancer.Ingress {
			host := lb.IP
			if host == "" {
				host = lb.Hostname
			}
			if host != "" {
				return hostPort(host, port), nil
			}
		}
		if clusterAddr == "" && svc.Spec.ClusterIP != "" && svc.Spec.ClusterIP != corev1.ClusterIPNone {
			clusterAddr = hostPort(svc.Spec.ClusterIP, port)
		}
	}
	return clusterAddr, nil
}

func hostPort(host, port string) string {
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

func ingressURLs(ing *networkingv1.Ingress) []string {
	tls := map[string]bool{}
	for _, t := range ing.Spec.TLS {
		for _, h := range t.Hosts {
			tls[h] = true
		}
	}
	var out []string
	for _, r := range ing.Spec.Rules {
		if r.Host == "" {
			continue
		}
		scheme := "http"
		if tls[r.Host] {
			scheme = "https"
		}
		out = append(out, scheme+"://"+r.Host)
	}
	return out
}

// podsMessage lists the reasons the controller's pods are not ready, one pod per line.
func podsMessage(ctx context.Context, parent *kube.PodParent) string {
	pods, err := parent.Pods(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "Deploy:Status", "msg", "pod listing failed", "parent", parent.Ref().String(), "err", err)
		return ""
	}
	var lines []string
	for _, p := range pods {
		if kube.IsPodReady(p) {
			continue
		}
		if reason := podReason(p); reason != "" {
			lines = append(lines, fmt.Sprintf("pod/%s: %s", p.Name, reason))
		}
	}
	return strings.Join(lines, "\n")
}

// podReason returns the most specific reason a pod is not ready.
func podReason(p *corev1.Pod) string {
	statuses := append(append([]corev1.ContainerStatus(nil), p.Status.InitContainerStatuses...), p.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			if w.Message != "" {
				return fmt.Sprintf("%s (%s: %s)", w.Reason, cs.Name, w.Message)
			}
			return fmt.Sprintf("%s (%s)", w.Reason, cs.Name)
		}
		if t := cs.State.Terminated; t != nil && t.ExitCode != 0 {
			return fmt.Sprintf("%s (%s exited %d)", t.Reason, cs.Name, t.ExitCode)
		}
	}
	for _, c := range p.Status.Conditions {
		if c.Type == corev1.PodScheduled && c.Status == corev1.ConditionFalse && c.Reason != "" {
			return c.Reason
		}
	}
	if p.Status.Reason != "" {
		return p.Status.Reason
	}
	return string(p.Status.Phase)
}

// DefaultStatusConcurrency bounds parallel service reads in Status.
const DefaultStatusConcurrency = 4

// StatusInput represents a query for every service of an application in an environment.
type StatusInput struct {
	// Target selects the application. Service is ignored.
	Target kube.Target `json:"target"`
}

// StatusOutput lists the services found, ordered by name.
type StatusOutput struct {
	Namespace string                 `json:"namespace"`
	Services  []*ServiceStatusOutput `json:"services"`
}

// Status reports every service of the application that has a workload controller.
func (u *UseCase) Status(ctx context.Context, in *StatusInput) (*StatusOutput, error) {
	if in == nil {
		return nil, fmt.Errorf("StatusInput is required")
	}
	target := in.Target.WithService("")
	hs, err := u.handlers(target)
	if err != nil {
		return nil, err
	}
	parents, err := kube.ResolvePodParents(ctx, hs, target.AppSelector())
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}
	seen := map[string]bool{}
	var services []string
	for _, p := range parents {
		s := p.Object.GetLabels()[kube.LabelKdService]
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		services = append(services, s)
	}
	sort.Strings(services)

	limit := u.StatusConcurrency
	if limit <= 0 {
		limit = DefaultStatusConcurrency
	}
	out := &StatusOutput{Namespace: hs.Namespace(), Services: make([]*ServiceStatusOutput, len(services))}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, s := range services {
		eg.Go(func() error {
			st, err := serviceStatus(egCtx, hs, target.WithService(s))
			if err != nil {
				return err
			}
			out.Services[i] = st
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
