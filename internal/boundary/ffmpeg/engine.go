package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mirage/internal/boundary"
	"mirage/internal/config"
	"mirage/internal/metrics"
)

// sidecarName is the per-run file an external analysis tool drops next to the
// canonical artifact with the face, landmark and lip-sync fields.
const sidecarName = "metrics_ext.json"

// Engine computes metric bundles for canonical artifacts. Container and
// duration facts come from ffprobe; the perceptual fields are ingested from a
// sidecar JSON produced by an external analysis tool. Without a sidecar those
// fields stay zero, which downstream badge derivation treats conservatively.
type Engine struct {
	prober *Prober
}

// NewEngine builds an Engine from configuration.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{prober: NewProber(cfg)}
}

func (e *Engine) BundleName() string {
	return metrics.BundleName
}

func (e *Engine) BundleVersion() string {
	return metrics.BundleVersion
}

// Measure probes the canonical artifact and merges any sidecar fields. An
// unreadable artifact yields a bundle with decode_ok false, not an error.
func (e *Engine) Measure(ctx context.Context, req boundary.MeasureRequest) (string, error) {
	bundle := metrics.BundleV1{}

	if sidecar, err := e.readSidecar(req.CanonPath); err != nil {
		return "", err
	} else if sidecar != nil {
		bundle = *sidecar
	}

	probe, err := e.prober.Probe(ctx, req.CanonPath)
	if err != nil {
		return "", err
	}
	bundle.DecodeOK = probe.DecodeOK
	bundle.VideoDurationMs = probe.VideoDurationMs
	bundle.AudioDurationMs = probe.AudioDurationMs
	bundle.AVDurationDeltaMs = probe.VideoDurationMs - probe.AudioDurationMs
	if bundle.AVDurationDeltaMs < 0 {
		bundle.AVDurationDeltaMs = -bundle.AVDurationDeltaMs
	}
	bundle.FPS = probe.FPS
	bundle.FrameCount = probe.FrameCount

	encoded, err := json.Marshal(bundle)
	if err != nil {
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "encode bundle", "", err)
	}
	return string(encoded), nil
}

func (e *Engine) readSidecar(canonPath string) (*metrics.BundleV1, error) {
	path := filepath.Join(filepath.Dir(canonPath), sidecarName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, boundary.Wrap(boundary.ErrMetrics, "measure", "read sidecar", "", err)
	}
	var bundle metrics.BundleV1
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, boundary.Wrap(boundary.ErrMetrics, "measure", "parse sidecar", fmt.Sprintf("file %s", path), err)
	}
	return &bundle, nil
}

var _ boundary.MetricsEngine = (*Engine)(nil)
