package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem roots and local state locations.
type Paths struct {
	SourceRoot  string `toml:"source_root"`
	ArchiveRoot string `toml:"archive_root"`
	LogDir      string `toml:"log_dir"`
	StateDB     string `toml:"state_db"`
}

// Backend contains the record service connection settings.
type Backend struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cluster contains orchestration API settings.
type Cluster struct {
	Namespace   string `toml:"namespace"`
	Kubeconfig  string `toml:"kubeconfig"`
	VolumeClaim string `toml:"volume_claim"`
}

// Image identifies a worker container image.
type Image struct {
	Registry string `toml:"registry"`
	Name     string `toml:"name"`
	Tag      string `toml:"tag"`
	SHA256   string `toml:"sha256"`
}

// Reference renders registry/name:tag@sha256:digest, omitting empty parts.
func (i Image) Reference() string {
	ref := strings.Trim(i.Name, "/")
	if reg := strings.TrimRight(i.Registry, "/"); reg != "" {
		ref = reg + "/" + ref
	}
	if i.Tag != "" {
		ref += ":" + i.Tag
	}
	if i.SHA256 != "" {
		ref += "@sha256:" + strings.TrimPrefix(i.SHA256, "sha256:")
	}
	return ref
}

// Jobs contains batch job rendering settings.
type Jobs struct {
	Parallelism         int    `toml:"parallelism"`
	MaxJobs             int    `toml:"max_jobs"`
	CompressionTemplate string `toml:"compression_template"`
	PotreeTemplate      string `toml:"potree_template"`
	CompressionImage    Image  `toml:"compression_image"`
	PotreeImage         Image  `toml:"potree_image"`
}

// Scan contains tree walking settings.
type Scan struct {
	MarkerSuffix string `toml:"marker_suffix"`
	LockFile     string `toml:"lock_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics configures the Prometheus Pushgateway used at the end of a scan.
type Metrics struct {
	PushgatewayURL string `toml:"pushgateway_url"`
	JobName        string `toml:"job_name"`
}

// Events configures dispatch event publication over NATS.
type Events struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
}

// Server configures the local record service (lidarscan serve).
type Server struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for lidarscan.
//
// Configuration sections by subsystem:
//   - Paths: source tree, archive output, logs, optional local state DB
//   - Backend: record service base URL and request timeout
//   - Cluster: namespace, kubeconfig, shared volume claim
//   - Jobs: parallelism ceiling, max jobs, templates, worker images
//   - Scan: marker file suffix and optional host-local lock
//   - Logging: log format and level
//   - Metrics / Events: optional Pushgateway and NATS sinks
//   - Server: bind address for the local record service
type Config struct {
	Paths   Paths   `toml:"paths"`
	Backend Backend `toml:"backend"`
	Cluster Cluster `toml:"cluster"`
	Jobs    Jobs    `toml:"jobs"`
	Scan    Scan    `toml:"scan"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
	Events  Events  `toml:"events"`
	Server  Server  `toml:"server"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lidarscan/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	envPath := strings.TrimSpace(os.Getenv("LIDARSCAN_ENV_FILE"))
	if envPath == "" {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lidarscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the source and archive roots when missing, plus
// the log directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SourceRoot, c.Paths.ArchiveRoot, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Paths.StateDB != "" {
		if err := os.MkdirAll(filepath.Dir(c.Paths.StateDB), 0o755); err != nil {
			return fmt.Errorf("create state db directory: %w", err)
		}
	}
	return nil
}

// PotreeRoot is where marker-file conversions are written: a Potree
// directory beside the archive root.
func (c *Config) PotreeRoot() string {
	return filepath.Join(filepath.Dir(c.Paths.ArchiveRoot), "Potree")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
