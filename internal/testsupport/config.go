package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The local state database is used so no backend is required.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SourceRoot = filepath.Join(base, "original_root")
	cfgVal.Paths.ArchiveRoot = filepath.Join(base, "zip_root")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDB = filepath.Join(base, "state.db")
	cfgVal.Server.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackendURL switches the config to a remote record service.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.StateDB = ""
		b.cfg.Backend.URL = url
	}
}

// WithMaxJobs caps the number of units dispatched per kind.
func WithMaxJobs(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.MaxJobs = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SourceRoot)
}
