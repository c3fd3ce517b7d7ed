package dispatch

import (
	"context"
	"errors"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// Submitter creates a Job on the orchestration API and returns the name the
// server assigned.
type Submitter interface {
	Submit(ctx context.Context, job *batchv1.Job) (string, error)
}

// KubeSubmitter submits Jobs through client-go.
type KubeSubmitter struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubeSubmitter returns a submitter bound to namespace. A Job carrying its
// own namespace is still created in the configured one.
func NewKubeSubmitter(client kubernetes.Interface, namespace string) *KubeSubmitter {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &KubeSubmitter{client: client, namespace: namespace}
}

// Submit creates job. API rejections wrap services.ErrSubmission; transport
// failures and server-side timeouts wrap services.ErrConnectivity.
func (s *KubeSubmitter) Submit(ctx context.Context, job *batchv1.Job) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("%w: no orchestration client", services.ErrConfiguration)
	}
	job = job.DeepCopy()
	job.Namespace = s.namespace
	created, err := s.client.BatchV1().Jobs(s.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", classifySubmitError(job.Name, err)
	}
	return created.Name, nil
}

func classifySubmitError(name string, err error) error {
	var status apierrors.APIStatus
	transient := apierrors.IsTimeout(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsInternalError(err)
	if errors.As(err, &status) && !transient {
		return services.Wrap(services.ErrSubmission, "dispatch", name, "job rejected", err)
	}
	return services.Wrap(services.ErrConnectivity, "dispatch", name, "orchestration API unreachable", err)
}
