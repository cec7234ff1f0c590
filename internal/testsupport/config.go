package testsupport

import (
	"path/filepath"
	"testing"

	"mirage/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithPollInterval overrides the worker poll interval on the test config.
func WithPollInterval(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Worker.PollInterval = seconds
	}
}

// WithHeartbeat overrides heartbeat interval and timeout on the test config.
func WithHeartbeat(intervalSeconds, timeoutSeconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Worker.HeartbeatInterval = intervalSeconds
		cfg.Worker.HeartbeatTimeout = timeoutSeconds
	}
}
