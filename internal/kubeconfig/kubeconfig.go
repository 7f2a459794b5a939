package kubeconfig

import (
	"fmt"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// Options selects a kubeconfig and a context within it.
type Options struct {
	// Path is an explicit kubeconfig file. Empty uses $KUBECONFIG or ~/.kube/config.
	Path string
	// Context overrides the current context.
	Context string
}

// Resolved is a client configuration ready for use.
type Resolved struct {
	RESTConfig *rest.Config
	// Context is the context name used.
	Context string
	// Namespace is the context's default namespace, empty when unset.
	Namespace string
	// Server is the API server URL, for logging.
	Server string
}

// Resolve loads the kubeconfig with the standard loading rules and returns the client
// configuration of the selected context.
func Resolve(opts Options) (*Resolved, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = opts.Path
	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	raw, err := cc.RawConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	ctxName, err := currentContext(&raw, opts.Context)
	if err != nil {
		return nil, err
	}
	restCfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig context %q: %w", ctxName, err)
	}
	ns := ""
	if c := raw.Contexts[ctxName]; c != nil {
		ns = c.Namespace
	}
	return &Resolved{RESTConfig: restCfg, Context: ctxName, Namespace: ns, Server: restCfg.Host}, nil
}

// currentContext returns the context that will be used, validating its references.
func currentContext(cfg *clientcmdapi.Config, override string) (string, error) {
	name := override
	if name == "" {
		name = cfg.CurrentContext
	}
	if name == "" {
		if len(cfg.Contexts) != 1 {
			return "", fmt.Errorf("kubeconfig has no current context")
		}
		for k := range cfg.Contexts {
			name = k
		}
	}
	c := cfg.Contexts[name]
	if c == nil {
		return "", fmt.Errorf("context %q not found in kubeconfig", name)
	}
	if _, ok := cfg.Clusters[c.Cluster]; !ok {
		return "", fmt.Errorf("referenced cluster %q not found", c.Cluster)
	}
	if _, ok := cfg.AuthInfos[c.AuthInfo]; !ok {
		return "", fmt.Errorf("referenced user %q not found", c.AuthInfo)
	}
	return name, nil
}
