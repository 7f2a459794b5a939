package kube

import (
	"fmt"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/kompox/kdeploy/internal/naming"
)

// Target identifies the service a deployment invocation manages.
// Its ownership labels are the sole selector for every later query.
type Target struct {
	// Namespace is where namespaced resources live. Empty selects naming.DefaultNamespace.
	Namespace   string
	Application string
	Environment string
	Service     string
}

// Validate checks the identity fields are usable as label values.
func (t Target) Validate() error {
	if err := naming.ValidateApplicationName(t.Application); err != nil {
		return err
	}
	if err := naming.ValidateEnvironmentName(t.Environment); err != nil {
		return err
	}
	if t.Service != "" {
		if err := naming.ValidateServiceName(t.Service); err != nil {
			return err
		}
	}
	if t.Namespace != "" {
		if err := naming.ValidateNamespace(t.Namespace); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedNamespace returns the namespace, defaulting to <app>-<env>.
func (t Target) ResolvedNamespace() string {
	if t.Namespace != "" {
		return t.Namespace
	}
	return naming.DefaultNamespace(t.Application, t.Environment)
}

// AppLabels returns the labels shared by every service of the application in the environment.
func (t Target) AppLabels() labels.Set {
	return labels.Set{
		LabelKdApplication:   naming.LabelValue(t.Application),
		LabelKdEnvironment:   naming.LabelValue(t.Environment),
		LabelAppK8sManagedBy: ManagedByValue,
	}
}

// Labels returns the full ownership label set for the service.
func (t Target) Labels() labels.Set {
	l := t.AppLabels()
	l[LabelKdService] = naming.LabelValue(t.Service)
	return l
}

// Selector returns the label selector string matching the service's resources.
func (t Target) Selector() string {
	return labels.SelectorFromSet(t.Labels()).String()
}

// AppSelector returns the label selector string matching all services of the application.
func (t Target) AppSelector() string {
	return labels.SelectorFromSet(t.AppLabels()).String()
}

// WithService returns a copy of t scoped to the given service.
func (t Target) WithService(service string) Target {
	t.Service = service
	return t
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", t.Application, t.Environment, t.Service, t.ResolvedNamespace())
}
