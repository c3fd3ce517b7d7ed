package dispatch

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// DecodeJob parses a rendered YAML manifest into a batch/v1 Job. The YAML
// is normalized to JSON first so the API types' json tags apply.
func DecodeJob(manifest []byte) (*batchv1.Job, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(manifest, &doc); err != nil {
		return nil, fmt.Errorf("%w: job manifest is not valid YAML: %w", services.ErrConfiguration, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: job manifest is empty", services.ErrConfiguration)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: normalize job manifest: %w", services.ErrConfiguration, err)
	}
	var job batchv1.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: decode job manifest: %w", services.ErrConfiguration, err)
	}
	if job.Kind != "Job" {
		return nil, fmt.Errorf("%w: manifest kind %q, want Job", services.ErrConfiguration, job.Kind)
	}
	if job.Name == "" {
		return nil, fmt.Errorf("%w: job manifest has no metadata.name", services.ErrConfiguration)
	}
	return &job, nil
}
