package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateSinks()
}

func (c *Config) validatePaths() error {
	if c.Paths.SourceRoot == "" {
		return errors.New("paths.source_root must be set")
	}
	if c.Paths.ArchiveRoot == "" {
		return errors.New("paths.archive_root must be set")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be positive")
	}
	if c.Paths.StateDB != "" {
		return nil
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url must be set when paths.state_db is empty")
	}
	return validateHTTPURL("backend.url", c.Backend.URL)
}

func (c *Config) validateJobs() error {
	if c.Jobs.Parallelism <= 0 {
		return errors.New("jobs.parallelism must be positive")
	}
	if c.Jobs.MaxJobs < 0 {
		return errors.New("jobs.max_jobs must be zero (unlimited) or positive")
	}
	if strings.TrimSpace(c.Jobs.CompressionImage.Name) == "" {
		return errors.New("jobs.compression_image.name must be set (or COMPRESSION_IMAGE_NAME)")
	}
	if strings.TrimSpace(c.Jobs.PotreeImage.Name) == "" {
		return errors.New("jobs.potree_image.name must be set (or POTREE_CONVERTER_IMAGE_NAME)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateSinks() error {
	if c.Metrics.PushgatewayURL != "" {
		if err := validateHTTPURL("metrics.pushgateway_url", c.Metrics.PushgatewayURL); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(field, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", field, value)
	}
	return nil
}
