// Package ffmpeg shells out to ffmpeg and ffprobe for canonical-artifact
// conversion and container probing. Binaries and timing come from
// configuration; nothing here touches the ledger.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mirage/internal/boundary"
	"mirage/internal/config"
)

var commandContext = exec.CommandContext

// Normalizer converts raw provider output to the canonical form every
// downstream consumer assumes: mp4 container, H.264 video at a fixed frame
// rate with yuv420p pixels, the canonical audio muxed in as loudness-normalized
// AAC, and the output trimmed to the audio duration.
type Normalizer struct {
	binary      string
	probeBinary string
	targetFPS   int
	timeout     time.Duration
}

// NewNormalizer builds a Normalizer from configuration.
func NewNormalizer(cfg *config.Config) *Normalizer {
	return &Normalizer{
		binary:      cfg.Normalize.FFmpegBinary,
		probeBinary: cfg.Normalize.FFprobeBinary,
		targetFPS:   cfg.Normalize.TargetFPS,
		timeout:     time.Duration(cfg.Normalize.TimeoutSeconds) * time.Second,
	}
}

// Normalize runs the transcode. The encode is pinned to a fixed preset and
// filter chain so recomputing from the same inputs stays deterministic at the
// decoded-stream level. The canonical audio replaces the provider's audio
// track, and the audio duration bounds the output: provider video longer than
// the driving audio is cut, never padded.
func (n *Normalizer) Normalize(ctx context.Context, req boundary.NormalizeRequest) (*boundary.NormalizeResult, error) {
	if req.RawPath == "" {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "validate", "raw path required", nil)
	}
	if req.AudioPath == "" {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "validate", "audio path required", nil)
	}
	if req.OutputDir == "" {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "validate", "output directory required", nil)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	audioSeconds, err := n.audioDurationSeconds(ctx, req.AudioPath)
	if err != nil {
		return nil, err
	}

	canon := filepath.Join(req.OutputDir, "output_canon.mp4")
	cmd := commandContext(ctx, n.binary, n.buildArgs(req.RawPath, req.AudioPath, canon, audioSeconds)...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "ffmpeg", detail, err)
	}
	return &boundary.NormalizeResult{CanonPath: canon}, nil
}

func (n *Normalizer) buildArgs(rawPath, audioPath, canonPath string, audioSeconds float64) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", rawPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p", n.targetFPS),
		"-c:v", "libx264", "-preset", "medium", "-crf", "18",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		"-c:a", "aac", "-b:a", "192k",
		"-t", strconv.FormatFloat(audioSeconds, 'f', 3, 64),
		"-movflags", "+faststart",
		canonPath,
	}
}

func (n *Normalizer) audioDurationSeconds(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	cmd := commandContext(ctx, n.probeBinary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, boundary.Wrap(boundary.ErrNormalization, "normalize", "probe audio", lastLine(stderr.String()), err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil || seconds <= 0 {
		return 0, boundary.Wrap(boundary.ErrNormalization, "normalize", "probe audio", "no audio duration reported", err)
	}
	return seconds, nil
}

var _ boundary.Normalizer = (*Normalizer)(nil)

// ProbeResult carries the container facts ffprobe reports for one file.
type ProbeResult struct {
	DecodeOK        bool
	VideoDurationMs int64
	AudioDurationMs int64
	FPS             float64
	FrameCount      int
	Width           int
	Height          int
}

// Prober wraps ffprobe.
type Prober struct {
	binary string
}

// NewProber builds a Prober from configuration.
func NewProber(cfg *config.Config) *Prober {
	return &Prober{binary: cfg.Normalize.FFprobeBinary}
}

// Probe inspects a media file. A file ffprobe cannot parse is reported as
// DecodeOK false with no error; only invocation failures are errors.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-show_streams", "-show_format",
		"-of", "json",
		path,
	}
	cmd := commandContext(ctx, p.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return &ProbeResult{DecodeOK: false}, nil
		}
		return nil, boundary.Wrap(boundary.ErrMetrics, "probe", "ffprobe", lastLine(stderr.String()), err)
	}

	var payload struct {
		Streams []struct {
			CodecType    string `json:"codec_type"`
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			Duration     string `json:"duration"`
			AvgFrameRate string `json:"avg_frame_rate"`
			NbFrames     string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, boundary.Wrap(boundary.ErrMetrics, "probe", "decode ffprobe output", "", err)
	}

	result := &ProbeResult{}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			result.DecodeOK = true
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoDurationMs = parseDurationMs(stream.Duration)
			result.FPS = parseFrameRate(stream.AvgFrameRate)
			if frames, err := strconv.Atoi(stream.NbFrames); err == nil {
				result.FrameCount = frames
			}
		case "audio":
			result.AudioDurationMs = parseDurationMs(stream.Duration)
		}
	}
	return result, nil
}

func parseDurationMs(value string) int64 {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return int64(seconds * 1000)
}

func parseFrameRate(value string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(value), "/")
	if !found {
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return rate
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
