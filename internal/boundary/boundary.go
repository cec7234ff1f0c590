// Package boundary defines the three side-effect seams of the run pipeline:
// the generation provider, the canonical-artifact normalizer, and the metrics
// engine. Everything behind these interfaces may spend money, shell out, or
// touch the network; everything in front of them stays pure and replayable.
package boundary

import "context"

// GenerationRequest carries everything a provider needs to produce one video.
// All fields are resolved content, not references the provider must chase.
type GenerationRequest struct {
	RunID          string
	Provider       string
	Model          string
	ModelVersion   string
	RenderedPrompt string
	ParamsJSON     string
	Seed           int64
	IdempotencyKey string

	AudioPath    string
	RefImagePath string

	// OutputDir is where the provider client lands the raw artifact.
	OutputDir string
}

// GenerationResult is a provider's raw output plus call metadata.
type GenerationResult struct {
	ProviderJobID   string
	RawArtifactPath string
	CostUSD         *float64
	LatencyMs       *int64
}

// Provider produces a raw video artifact for a generation request. Providers
// must be safe to call twice with the same idempotency key: the second call
// may recompute, but the ledger guarantees only one call row is ever paid for.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// NormalizeRequest describes one raw-to-canonical conversion. AudioPath is
// the canonical audio input: its track replaces whatever the provider muxed
// and its duration bounds the output.
type NormalizeRequest struct {
	RunID     string
	RawPath   string
	AudioPath string
	OutputDir string
}

// NormalizeResult points at the canonical artifact.
type NormalizeResult struct {
	CanonPath string
}

// Normalizer converts a raw provider artifact plus the canonical audio to the
// canonical container, codec, fixed frame rate and loudness, trimmed to the
// audio duration. Two normalizations of the same inputs must be deterministic
// at the decoded-stream level.
type Normalizer interface {
	Normalize(ctx context.Context, req NormalizeRequest) (*NormalizeResult, error)
}

// MeasureRequest describes one metric-bundle computation over a canonical
// artifact and its source inputs.
type MeasureRequest struct {
	RunID        string
	CanonPath    string
	AudioPath    string
	RefImagePath string
}

// MetricsEngine computes the objective metric bundle for a canonical artifact.
// It returns the bundle as canonical JSON; a degenerate input yields a bundle
// with DecodeOK false rather than an error.
type MetricsEngine interface {
	BundleName() string
	BundleVersion() string
	Measure(ctx context.Context, req MeasureRequest) (string, error)
}
