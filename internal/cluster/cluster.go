// Package cluster resolves credentials for the orchestration API.
package cluster

import (
	"errors"
	"fmt"
	"os"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// DefaultTimeout bounds each API request.
const DefaultTimeout = 30 * time.Second

// Source records where credentials were loaded from.
type Source string

const (
	SourceInCluster  Source = "in-cluster"
	SourceKubeconfig Source = "kubeconfig"
)

// Loader resolves a REST config. The function fields exist so tests can run
// outside a cluster.
type Loader struct {
	InCluster      func() (*rest.Config, error)
	FromKubeconfig func(path string) (*rest.Config, error)
}

// DefaultLoader uses the service account first and then the kubeconfig file.
func DefaultLoader() Loader {
	return Loader{
		InCluster: rest.InClusterConfig,
		FromKubeconfig: func(path string) (*rest.Config, error) {
			return clientcmd.BuildConfigFromFlags("", path)
		},
	}
}

// RESTConfig tries in-cluster credentials, then kubeconfig (the given path,
// else $KUBECONFIG, else ~/.kube/config). Failure of both is a configuration
// error.
func (l Loader) RESTConfig(kubeconfig string) (*rest.Config, Source, error) {
	inErr := errors.New("in-cluster loader unavailable")
	if l.InCluster != nil {
		cfg, err := l.InCluster()
		if err == nil {
			return withTimeout(cfg), SourceInCluster, nil
		}
		inErr = err
	}

	path := kubeconfig
	if path == "" {
		path = os.Getenv(clientcmd.RecommendedConfigPathEnvVar)
	}
	if path == "" {
		path = clientcmd.RecommendedHomeFile
	}
	if l.FromKubeconfig == nil {
		return nil, "", fmt.Errorf("%w: no cluster credentials: %v", services.ErrConfiguration, inErr)
	}
	cfg, err := l.FromKubeconfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: no cluster credentials (in-cluster: %v; kubeconfig %s: %v)", services.ErrConfiguration, inErr, path, err)
	}
	return withTimeout(cfg), SourceKubeconfig, nil
}

// NewClientset resolves credentials and builds a typed client.
func NewClientset(kubeconfig string) (kubernetes.Interface, Source, error) {
	cfg, source, err := DefaultLoader().RESTConfig(kubeconfig)
	if err != nil {
		return nil, "", err
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build orchestration client: %w", services.ErrConfiguration, err)
	}
	return client, source, nil
}

func withTimeout(cfg *rest.Config) *rest.Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}
