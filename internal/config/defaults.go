package config

const (
	defaultDataDir     = "~/.local/share/mirage/data"
	defaultArtifactDir = "~/.local/share/mirage/artifacts"
	defaultLogDir      = "~/.local/share/mirage/logs"

	defaultPollInterval       = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultTargetFPS         = 30
	defaultNormalizeTimeout  = 300
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		Worker: Worker{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Normalize: Normalize{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TargetFPS:      defaultTargetFPS,
			TimeoutSeconds: defaultNormalizeTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
