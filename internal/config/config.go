package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// DataDir holds the ledger database.
	DataDir string `toml:"data_dir"`
	// ArtifactDir holds raw and canonical run artifacts, laid out as
	// runs/<run_id>/{raw,output_canon.mp4}.
	ArtifactDir string `toml:"artifact_dir"`
	// LogDir holds worker logs.
	LogDir string `toml:"log_dir"`
}

// Worker contains polling intervals and heartbeat timing for the run worker.
type Worker struct {
	// PollInterval is the idle wait between claim attempts, in seconds.
	PollInterval int `toml:"poll_interval"`
	// ErrorRetryInterval is the wait after a ledger error, in seconds.
	ErrorRetryInterval int `toml:"error_retry_interval"`
	// HeartbeatInterval is how often a claimed run's heartbeat is refreshed,
	// in seconds.
	HeartbeatInterval int `toml:"heartbeat_interval"`
	// HeartbeatTimeout is how stale a running row's heartbeat must be before
	// a reclaim pass returns it to queued, in seconds.
	HeartbeatTimeout int `toml:"heartbeat_timeout"`
}

// Normalize contains canonical-artifact transcode settings.
type Normalize struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	// TargetFPS is the fixed frame rate of canonical artifacts.
	TargetFPS int `toml:"target_fps"`
	// TimeoutSeconds bounds a single transcode invocation.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mirage.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Worker    Worker    `toml:"worker"`
	Normalize Normalize `toml:"normalize"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mirage/config.toml")
}

// Load locates, parses, and validates a configuration file. Missing files are
// not an error: defaults apply and exists reports false.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	value := Default()

	resolved, exists, err = resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, openErr := os.Open(resolved)
		if openErr != nil {
			return nil, "", false, fmt.Errorf("open config: %w", openErr)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if decodeErr := decoder.Decode(&value); decodeErr != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", decodeErr)
		}
	}

	if err := value.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := value.Validate(); err != nil {
		return nil, "", false, err
	}
	return &value, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
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
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.DataDir,
		&c.Paths.ArtifactDir,
		&c.Paths.LogDir,
	}
	for _, field := range fields {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	if strings.TrimSpace(c.Normalize.FFmpegBinary) == "" {
		c.Normalize.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Normalize.FFprobeBinary) == "" {
		c.Normalize.FFprobeBinary = defaultFFprobeBinary
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// EnsureDirectories creates the configured directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}

// CreateSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
