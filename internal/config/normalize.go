package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	if err := c.normalizeCluster(); err != nil {
		return err
	}
	if err := c.normalizeJobs(); err != nil {
		return err
	}
	c.normalizeScan()
	c.normalizeLogging()
	c.normalizeSinks()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SourceRoot, err = expandPath(strings.TrimSpace(c.Paths.SourceRoot)); err != nil {
		return fmt.Errorf("paths.source_root: %w", err)
	}
	if c.Paths.ArchiveRoot, err = expandPath(strings.TrimSpace(c.Paths.ArchiveRoot)); err != nil {
		return fmt.Errorf("paths.archive_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDB, err = expandPath(strings.TrimSpace(c.Paths.StateDB)); err != nil {
		return fmt.Errorf("paths.state_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() {
	if value := envValue("BACKEND_URL"); value != "" && strings.TrimSpace(c.Backend.URL) == defaultBackendURL {
		c.Backend.URL = value
	}
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = defaultBackendTimeout
	}
}

func (c *Config) normalizeCluster() error {
	c.Cluster.Namespace = strings.TrimSpace(c.Cluster.Namespace)
	if c.Cluster.Namespace == "" {
		c.Cluster.Namespace = defaultNamespace
	}
	c.Cluster.VolumeClaim = strings.TrimSpace(c.Cluster.VolumeClaim)
	if c.Cluster.VolumeClaim == "" {
		c.Cluster.VolumeClaim = defaultVolumeClaim
	}
	c.Cluster.Kubeconfig = strings.TrimSpace(c.Cluster.Kubeconfig)
	if c.Cluster.Kubeconfig == "" {
		c.Cluster.Kubeconfig = envValue("KUBECONFIG")
	}
	if c.Cluster.Kubeconfig != "" && !strings.Contains(c.Cluster.Kubeconfig, string(os.PathListSeparator)) {
		expanded, err := expandPath(c.Cluster.Kubeconfig)
		if err != nil {
			return fmt.Errorf("cluster.kubeconfig: %w", err)
		}
		c.Cluster.Kubeconfig = expanded
	}
	return nil
}

func (c *Config) normalizeJobs() error {
	applyImageEnv(&c.Jobs.CompressionImage, "COMPRESSION_IMAGE")
	applyImageEnv(&c.Jobs.PotreeImage, "POTREE_CONVERTER_IMAGE")

	var err error
	if c.Jobs.CompressionTemplate, err = expandPath(strings.TrimSpace(c.Jobs.CompressionTemplate)); err != nil {
		return fmt.Errorf("jobs.compression_template: %w", err)
	}
	if c.Jobs.PotreeTemplate, err = expandPath(strings.TrimSpace(c.Jobs.PotreeTemplate)); err != nil {
		return fmt.Errorf("jobs.potree_template: %w", err)
	}
	return nil
}

// applyImageEnv lets non-empty PREFIX_REGISTRY / _NAME / _TAG / _SHA256
// override the file values, matching how the deployment injects worker images.
func applyImageEnv(img *Image, prefix string) {
	if value := envValue(prefix + "_REGISTRY"); value != "" {
		img.Registry = value
	}
	if value := envValue(prefix + "_NAME"); value != "" {
		img.Name = value
	}
	if value := envValue(prefix + "_TAG"); value != "" {
		img.Tag = value
	}
	if value := envValue(prefix + "_SHA256"); value != "" {
		img.SHA256 = value
	}
	img.Registry = strings.TrimSpace(img.Registry)
	img.Name = strings.TrimSpace(img.Name)
	img.Tag = strings.TrimSpace(img.Tag)
	img.SHA256 = strings.TrimSpace(img.SHA256)
}

func (c *Config) normalizeScan() {
	c.Scan.MarkerSuffix = strings.TrimSpace(c.Scan.MarkerSuffix)
	if c.Scan.MarkerSuffix == "" {
		c.Scan.MarkerSuffix = defaultMarkerSuffix
	}
	if !strings.HasPrefix(c.Scan.MarkerSuffix, ".") {
		c.Scan.MarkerSuffix = "." + c.Scan.MarkerSuffix
	}
	c.Scan.LockFile = strings.TrimSpace(c.Scan.LockFile)
	if c.Scan.LockFile != "" {
		if expanded, err := expandPath(c.Scan.LockFile); err == nil {
			c.Scan.LockFile = expanded
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	if c.Logging.Level == "critical" {
		c.Logging.Level = "error"
	}
}

func (c *Config) normalizeSinks() {
	c.Metrics.PushgatewayURL = strings.TrimRight(strings.TrimSpace(c.Metrics.PushgatewayURL), "/")
	c.Metrics.JobName = strings.TrimSpace(c.Metrics.JobName)
	if c.Metrics.JobName == "" {
		c.Metrics.JobName = defaultMetricsJobName
	}
	c.Events.NATSURL = strings.TrimSpace(c.Events.NATSURL)
	if c.Events.NATSURL == "" {
		c.Events.NATSURL = envValue("NATS_URL")
	}
	c.Events.Subject = strings.TrimSpace(c.Events.Subject)
	if c.Events.Subject == "" {
		c.Events.Subject = defaultEventsSubject
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
