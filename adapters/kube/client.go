package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Client wraps the typed clientset and the REST config it was built from.
// Credential resolution happens before a kubeconfig reaches this package.
type Client struct {
	// RESTConfig is the configuration used to talk to the API server.
	RESTConfig *rest.Config
	// Clientset provides typed clients for core/built-in resources.
	Clientset kubernetes.Interface
}

// Options controls client construction tuning. All fields are optional.
type Options struct {
	// UserAgent adds a custom user agent to the REST config.
	UserAgent string
	// QPS sets the allowed queries per second on the REST client.
	QPS float32
	// Burst sets the client-side rate limiter burst.
	Burst int
}

// applyDefaults applies reasonable defaults if not set.
func (o *Options) applyDefaults() {
	if o.QPS <= 0 {
		o.QPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 50
	}
}

// NewClientFromRESTConfig constructs a Client from an existing rest.Config.
func NewClientFromRESTConfig(cfg *rest.Config, opts *Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("REST config is nil")
	}
	if opts == nil {
		opts = &Options{}
	}
	opts.applyDefaults()

	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst
	if opts.UserAgent == "" {
		opts.UserAgent = ManagedByValue
	}
	_ = rest.AddUserAgent(cfg, opts.UserAgent)

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}

	return &Client{RESTConfig: cfg, Clientset: cs}, nil
}

// NewClient wraps an existing clientset, typically a fake one in tests.
func NewClient(cs kubernetes.Interface) *Client {
	return &Client{Clientset: cs}
}

// Handlers returns the registry's handlers bound to namespace.
func (c *Client) Handlers(reg *Registry, namespace string) (*HandlerSet, error) {
	if c == nil || c.Clientset == nil {
		return nil, fmt.Errorf("kube client is not initialized")
	}
	return reg.Handlers(c.Clientset, namespace), nil
}
