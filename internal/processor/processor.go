// Package processor executes the three-stage run pipeline: generate,
// normalize, measure. Process is replayable: every side effect goes through
// an idempotent ledger write or a write-once artifact, so running it twice
// for the same run converges on the same result. Run status is owned by the
// worker orchestrator; nothing here writes it.
package processor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"mirage/internal/boundary"
	"mirage/internal/identity"
	"mirage/internal/ledger"
	"mirage/internal/logging"
	"mirage/internal/metrics"
)

// Deps bundles the collaborators Process needs. All of them are interfaces or
// ledger handles; tests swap in fakes.
type Deps struct {
	Store      *ledger.Store
	Provider   boundary.Provider
	Normalizer boundary.Normalizer
	Engine     boundary.MetricsEngine
	Logger     *slog.Logger
}

// RunContext is the fully resolved, immutable input to one pipeline pass.
// The worker builds it from ledger rows and local files before claiming CPU
// time; Process only reads it.
type RunContext struct {
	Run  ledger.Run
	Spec ledger.GenerationSpec
	Item ledger.DatasetItem

	RenderedPrompt string
	Seed           int64
	SpecHash       string

	AudioPath    string
	RefImagePath string
	ArtifactDir  string
}

// Outcome is what a successful pass produced.
type Outcome struct {
	CanonPath  string
	CanonHash  string
	BundleJSON string
	Badge      metrics.Badge
	Reasons    []string
}

// Process runs generate, normalize, measure for one claimed run. Errors carry
// a sentinel from the boundary taxonomy; the caller maps them to the run's
// terminal state and error code.
func (d Deps) Process(ctx context.Context, rc RunContext) (*Outcome, error) {
	log := d.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With(logging.String(logging.FieldRunID, rc.Run.RunID))

	rawPath, err := d.generate(ctx, log, rc)
	if err != nil {
		return nil, err
	}

	canonPath, canonHash, err := d.normalize(ctx, log, rc, rawPath)
	if err != nil {
		return nil, err
	}

	bundleJSON, err := d.measure(ctx, log, rc, canonPath)
	if err != nil {
		return nil, err
	}

	var bundle metrics.BundleV1
	badge := metrics.BadgeReject
	var reasons []string
	if decodeErr := metrics.DecodeBundle(bundleJSON, &bundle); decodeErr == nil {
		badge, reasons = metrics.DeriveBadge(bundle)
	} else {
		reasons = []string{"bundle undecodable"}
	}

	log.Info("run pipeline complete",
		logging.String("badge", string(badge)),
		logging.Int("reasons", len(reasons)))
	return &Outcome{
		CanonPath:  canonPath,
		CanonHash:  canonHash,
		BundleJSON: bundleJSON,
		Badge:      badge,
		Reasons:    reasons,
	}, nil
}

// generate resolves the raw artifact, paying the provider at most once per
// idempotency key. The ledger row is created before the call goes out, so a
// crash between row and call leaves a resumable created row, never a silent
// double-spend.
func (d Deps) generate(ctx context.Context, log *slog.Logger, rc RunContext) (string, error) {
	key := identity.ProviderIdempotencyKey(d.Provider.Name(), rc.SpecHash)

	existing, err := d.Store.GetProviderCallByKey(ctx, d.Provider.Name(), key)
	if err != nil {
		return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "read provider call", "", err)
	}

	switch {
	case existing == nil:
		call := ledger.ProviderCall{
			ProviderCallID: uuid.NewString(),
			RunID:          rc.Run.RunID,
			Provider:       d.Provider.Name(),
			IdempotencyKey: key,
		}
		if err := d.Store.CreateProviderCall(ctx, call); err != nil {
			if !errors.Is(err, ledger.ErrDuplicateProviderCall) {
				return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "create provider call", "", err)
			}
			// Another run with the same spec got there first; attach to it.
			existing, err = d.Store.GetProviderCallByKey(ctx, d.Provider.Name(), key)
			if err != nil || existing == nil {
				return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "reread provider call", "", err)
			}
			return d.resolveExisting(ctx, log, rc, existing)
		}
		existing, err = d.Store.GetProviderCallByKey(ctx, d.Provider.Name(), key)
		if err != nil || existing == nil {
			return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "reread provider call", "", err)
		}
		return d.invokeProvider(ctx, log, rc, existing)
	default:
		return d.resolveExisting(ctx, log, rc, existing)
	}
}

func (d Deps) resolveExisting(ctx context.Context, log *slog.Logger, rc RunContext, call *ledger.ProviderCall) (string, error) {
	switch call.Status {
	case ledger.CallCompleted:
		log.Info("reusing completed provider call",
			logging.String("provider_call_id", call.ProviderCallID),
			logging.Int("attempt", call.Attempt))
		return call.RawArtifactURI, nil
	case ledger.CallFailed:
		if err := d.Store.RetryProviderCall(ctx, call.ProviderCallID); err != nil {
			if errors.Is(err, ledger.ErrInvalidTransition) {
				// Someone else reopened or completed it concurrently.
				refreshed, rerr := d.Store.GetProviderCallByKey(ctx, call.Provider, call.IdempotencyKey)
				if rerr == nil && refreshed != nil && refreshed.Status == ledger.CallCompleted {
					return refreshed.RawArtifactURI, nil
				}
			}
			return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "reopen provider call", "", err)
		}
		return d.invokeProvider(ctx, log, rc, call)
	default:
		// A created row from a crashed pass; finish the call ourselves.
		return d.invokeProvider(ctx, log, rc, call)
	}
}

func (d Deps) invokeProvider(ctx context.Context, log *slog.Logger, rc RunContext, call *ledger.ProviderCall) (string, error) {
	result, err := d.Provider.Generate(ctx, boundary.GenerationRequest{
		RunID:          rc.Run.RunID,
		Provider:       rc.Spec.Provider,
		Model:          rc.Spec.Model,
		ModelVersion:   derefOrEmpty(rc.Spec.ModelVersion),
		RenderedPrompt: rc.RenderedPrompt,
		ParamsJSON:     rc.Spec.ParamsJSON,
		Seed:           rc.Seed,
		IdempotencyKey: call.IdempotencyKey,
		AudioPath:      rc.AudioPath,
		RefImagePath:   rc.RefImagePath,
		OutputDir:      rc.ArtifactDir,
	})
	if err != nil {
		if failErr := d.Store.FailProviderCall(ctx, call.ProviderCallID); failErr != nil && !errors.Is(failErr, ledger.ErrInvalidTransition) {
			log.Warn("record provider failure", logging.Error(failErr))
		}
		return "", err
	}

	rawHash, err := identity.FileHash(result.RawArtifactPath)
	if err != nil {
		return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "hash raw artifact", "", err)
	}
	if err := d.Store.CompleteProviderCall(ctx, call.ProviderCallID,
		result.ProviderJobID, result.RawArtifactPath, rawHash,
		result.CostUSD, result.LatencyMs); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			// A concurrent pass completed the call; its artifact is as good
			// as ours, both derive from the same inputs.
			refreshed, rerr := d.Store.GetProviderCallByKey(ctx, call.Provider, call.IdempotencyKey)
			if rerr == nil && refreshed != nil && refreshed.Status == ledger.CallCompleted {
				return refreshed.RawArtifactURI, nil
			}
		}
		return "", boundary.Wrap(boundary.ErrGenerationRetriable, "generate", "complete provider call", "", err)
	}
	return result.RawArtifactPath, nil
}

func (d Deps) normalize(ctx context.Context, log *slog.Logger, rc RunContext, rawPath string) (string, string, error) {
	result, err := d.Normalizer.Normalize(ctx, boundary.NormalizeRequest{
		RunID:     rc.Run.RunID,
		RawPath:   rawPath,
		AudioPath: rc.AudioPath,
		OutputDir: rc.ArtifactDir,
	})
	if err != nil {
		return "", "", err
	}
	hash, err := identity.FileHash(result.CanonPath)
	if err != nil {
		return "", "", boundary.Wrap(boundary.ErrNormalization, "normalize", "hash canonical artifact", "", err)
	}
	log.Info("canonical artifact ready", logging.String("path", result.CanonPath))
	return result.CanonPath, hash, nil
}

// measure computes and persists the metric bundle. A bundle already stored
// under the engine's (name, version) wins over a fresh computation: metric
// results are immutable once written.
func (d Deps) measure(ctx context.Context, log *slog.Logger, rc RunContext, canonPath string) (string, error) {
	if stored, err := d.Store.GetMetricResult(ctx, rc.Run.RunID, d.Engine.BundleName(), d.Engine.BundleVersion()); err == nil && stored != nil {
		if stored.Status == ledger.MetricSucceeded {
			log.Info("reusing stored metric result",
				logging.String("metric_version", stored.MetricVersion))
			return stored.ValueJSON, nil
		}
	} else if err != nil {
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "read metric result", "", err)
	}

	bundleJSON, err := d.Engine.Measure(ctx, boundary.MeasureRequest{
		RunID:        rc.Run.RunID,
		CanonPath:    canonPath,
		AudioPath:    rc.AudioPath,
		RefImagePath: rc.RefImagePath,
	})
	if err != nil {
		failed := ledger.MetricResult{
			MetricResultID: uuid.NewString(),
			RunID:          rc.Run.RunID,
			MetricName:     d.Engine.BundleName(),
			MetricVersion:  d.Engine.BundleVersion(),
			ValueJSON:      "{}",
			Status:         ledger.MetricFailed,
			ErrorDetail:    err.Error(),
		}
		if insertErr := d.Store.InsertMetricResult(ctx, failed); insertErr != nil && !errors.Is(insertErr, ledger.ErrDuplicateMetricResult) {
			log.Warn("record metric failure", logging.Error(insertErr))
		}
		return "", err
	}

	result := ledger.MetricResult{
		MetricResultID: uuid.NewString(),
		RunID:          rc.Run.RunID,
		MetricName:     d.Engine.BundleName(),
		MetricVersion:  d.Engine.BundleVersion(),
		ValueJSON:      bundleJSON,
		Status:         ledger.MetricSucceeded,
	}
	if err := d.Store.InsertMetricResult(ctx, result); err != nil {
		if errors.Is(err, ledger.ErrDuplicateMetricResult) {
			stored, rerr := d.Store.GetMetricResult(ctx, rc.Run.RunID, d.Engine.BundleName(), d.Engine.BundleVersion())
			if rerr == nil && stored != nil && stored.Status == ledger.MetricSucceeded {
				return stored.ValueJSON, nil
			}
		}
		return "", boundary.Wrap(boundary.ErrMetrics, "measure", "persist metric result", "", err)
	}
	return bundleJSON, nil
}

func derefOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
