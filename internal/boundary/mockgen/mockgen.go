// Package mockgen implements the boundary interfaces without external
// dependencies. Output bytes are derived entirely from the request, so the
// same inputs always produce the same artifact. Used for demos and tests; no
// network, no money, no ffmpeg.
package mockgen

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mirage/internal/boundary"
	"mirage/internal/fileutil"
	"mirage/internal/metrics"
)

const providerName = "mockgen"

// artifactSize keeps generated artifacts small but non-trivial.
const artifactSize = 16 * 1024

// Provider is a deterministic stand-in for a real generation backend.
type Provider struct{}

// NewProvider returns the mock generation provider.
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return providerName
}

// Generate writes a pseudo-video artifact whose bytes are a keyed stream over
// the idempotency key. Repeat calls for the same key are bit-identical.
func (p *Provider) Generate(ctx context.Context, req boundary.GenerationRequest) (*boundary.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "context", "", err)
	}
	if req.IdempotencyKey == "" {
		return nil, boundary.Wrap(boundary.ErrGenerationFatal, "generate", "validate", "empty idempotency key", nil)
	}

	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(req.AudioPath)
	}
	path := filepath.Join(dir, "raw_"+req.RunID+".bin")
	if err := fileutil.WriteFileOnce(path, keyedStream(req.IdempotencyKey, req.Seed)); err != nil {
		return nil, boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "write artifact", "", err)
	}

	latency := int64(800 + deriveUint(req.IdempotencyKey, "latency")%2400)
	cost := 0.01 + float64(deriveUint(req.IdempotencyKey, "cost")%90)/1000
	return &boundary.GenerationResult{
		ProviderJobID:   "mock-" + req.IdempotencyKey[:12],
		RawArtifactPath: path,
		CostUSD:         &cost,
		LatencyMs:       &latency,
	}, nil
}

func keyedStream(key string, seed int64) []byte {
	out := make([]byte, 0, artifactSize)
	counter := uint64(seed)
	for len(out) < artifactSize {
		block := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", key, counter)))
		out = append(out, block[:]...)
		counter++
	}
	return out[:artifactSize]
}

func deriveUint(key, label string) uint64 {
	sum := sha256.Sum256([]byte(key + "|" + label))
	return binary.BigEndian.Uint64(sum[:8])
}

// Normalizer stands in for the real mux-and-trim transcode: the canonical
// artifact is the raw bytes followed by the canonical audio bytes, so the
// output depends on both inputs the way a real remux would, while staying a
// pure deterministic function of them.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(ctx context.Context, req boundary.NormalizeRequest) (*boundary.NormalizeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "context", "", err)
	}
	raw, err := os.ReadFile(req.RawPath)
	if err != nil {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "read raw artifact", "", err)
	}
	if req.AudioPath == "" {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "validate", "audio path required", nil)
	}
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "read audio", "", err)
	}
	canon := filepath.Join(req.OutputDir, "output_canon.mp4")
	if err := os.WriteFile(canon, append(raw, audio...), 0o644); err != nil {
		return nil, boundary.Wrap(boundary.ErrNormalization, "normalize", "write artifact", "", err)
	}
	return &boundary.NormalizeResult{CanonPath: canon}, nil
}

// Engine derives a plausible metric bundle from the canonical artifact's
// bytes. Values vary per artifact but are stable across recomputations, so
// demo experiments exercise the full pass/flagged/reject range.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) BundleName() string {
	return metrics.BundleName
}

func (e *Engine) BundleVersion() string {
	return metrics.BundleVersion
}

func (e *Engine) Measure(ctx context.Context, req boundary.MeasureRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "context", "", err)
	}
	data, err := os.ReadFile(req.CanonPath)
	if err != nil {
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "read artifact", "", err)
	}

	sum := sha256.Sum256(data)
	pick := func(i int, lo, hi float64) float64 {
		return lo + (hi-lo)*float64(sum[i])/255
	}

	videoMs := int64(4000 + 200*int64(sum[0]))
	audioMs := videoMs + int64(sum[2])*3 - 380
	delta := videoMs - audioMs
	if delta < 0 {
		delta = -delta
	}
	blinkCount := int(sum[9] % 8)
	blinkRate := float64(blinkCount) * 1000 / float64(videoMs)
	bundle := metrics.BundleV1{
		DecodeOK:            true,
		VideoDurationMs:     videoMs,
		AudioDurationMs:     audioMs,
		AVDurationDeltaMs:   delta,
		FPS:                 30,
		FrameCount:          int(videoMs * 30 / 1000),
		SceneCutCount:       int(sum[10] % 4),
		FreezeFrameRatio:    pick(4, 0, 0.45),
		FlickerScore:        pick(3, 0, 14),
		BlurScore:           pick(5, 10, 80),
		FrameDiffSpikeCount: int(sum[11] % 6),
		FacePresentRatio:    pick(1, 0.1, 1.0),
		FaceBBoxJitter:      pick(12, 0, 6),
		LandmarkJitter:      pick(13, 0, 4),
		MouthOpenEnergy:     pick(14, 0, 1),
		MouthAudioCorr:      pick(6, -0.3, 0.9),
		BlinkCount:          &blinkCount,
		BlinkRateHz:         &blinkRate,
	}
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "encode bundle", "", err)
	}
	return string(encoded), nil
}
