package k8s

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"platformd/backend/internal/apperrors"
)

const defaultRetryAttempts = 3

type Options struct {
	Timeout time.Duration
	QPS     float64
	Burst   int
}

// Client is a short-lived, CRD-aware connection to one cluster. A new one is built for every
// deploy, decommission and poll.
type Client struct {
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
	Mapper    meta.RESTMapper

	limiter  *rate.Limiter
	attempts int
}

// CheckKubeconfig reports ErrConfigInvalid when raw does not describe a usable cluster.
func CheckKubeconfig(raw []byte) error {
	if _, err := clientcmd.RESTConfigFromKubeConfig(raw); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	return nil
}

// NewClient parses kubeconfig and wires typed, dynamic and discovery clients from it.
func NewClient(kubeconfig []byte, opts Options) (*Client, error) {
	cfg, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	cfg.Timeout = opts.Timeout
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	dynamicClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(clientset.Discovery()))

	c := NewForInterfaces(dynamicClient, clientset, mapper)
	if opts.QPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}
	return c, nil
}

func NewForInterfaces(dyn dynamic.Interface, clientset kubernetes.Interface, mapper meta.RESTMapper) *Client {
	return &Client{
		Clientset: clientset,
		Dynamic:   dyn,
		Mapper:    mapper,
		attempts:  defaultRetryAttempts,
	}
}

// Builder returns a Factory producing real clients with the given options.
func Builder(opts Options) Factory {
	return func(kubeconfig []byte) (Cluster, error) {
		return NewClient(kubeconfig, opts)
	}
}

func (c *Client) Core() kubernetes.Interface {
	return c.Clientset
}

// Probe checks that the API server answers discovery requests.
func (c *Client) Probe(ctx context.Context) (string, error) {
	if err := c.waitRateLimit(ctx); err != nil {
		return "", err
	}
	info, err := c.Clientset.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrConnectFailed, err)
	}
	return info.GitVersion, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
