package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("config: paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		return fmt.Errorf("config: paths.artifact_dir is required")
	}

	if err := ensurePositive(map[string]int{
		"worker.poll_interval":        c.Worker.PollInterval,
		"worker.error_retry_interval": c.Worker.ErrorRetryInterval,
		"worker.heartbeat_interval":   c.Worker.HeartbeatInterval,
		"worker.heartbeat_timeout":    c.Worker.HeartbeatTimeout,
		"normalize.target_fps":        c.Normalize.TargetFPS,
		"normalize.timeout_seconds":   c.Normalize.TimeoutSeconds,
	}); err != nil {
		return err
	}

	if c.Worker.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("config: worker.heartbeat_timeout must exceed worker.heartbeat_interval")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func ensurePositive(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", key, values[key])
		}
	}
	return nil
}
