package model

import "time"

// Deployment operations.
const (
	OperationDeploy   = "deploy"
	OperationUndeploy = "undeploy"
)

// Deployment outcomes.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeFailed       = "failed"
	OutcomeUnhealthy    = "unhealthy"
	OutcomeNotConfirmed = "not-confirmed"
)

// Deployment records one deployment invocation of a service.
type Deployment struct {
	ID          string
	Application string
	Environment string
	Service     string
	Namespace   string
	Operation   string
	// Phase is the last phase reached.
	Phase      string
	Outcome    string
	Message    string
	Applied    int
	Unchanged  int
	Pruned     int
	Warnings   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the invocation took.
func (d *Deployment) Duration() time.Duration {
	if d.FinishedAt.IsZero() {
		return 0
	}
	return d.FinishedAt.Sub(d.StartedAt)
}

// DeploymentFilter narrows a history listing. Empty fields match everything.
type DeploymentFilter struct {
	Application string
	Environment string
	Service     string
	// Limit caps the number of records, newest first. Zero means no limit.
	Limit int
}

// Match reports whether d satisfies the filter fields.
func (f DeploymentFilter) Match(d *Deployment) bool {
	return (f.Application == "" || f.Application == d.Application) &&
		(f.Environment == "" || f.Environment == d.Environment) &&
		(f.Service == "" || f.Service == d.Service)
}
