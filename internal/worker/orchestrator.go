// Package worker owns run status. It claims queued runs, builds the resolved
// context the processor needs, keeps the heartbeat fresh while the pipeline
// runs, and commits the terminal state with an error code on failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mirage/internal/boundary"
	"mirage/internal/config"
	"mirage/internal/identity"
	"mirage/internal/ledger"
	"mirage/internal/logging"
	"mirage/internal/processor"
)

// Orchestrator claims and executes runs one at a time.
type Orchestrator struct {
	store  *ledger.Store
	deps   processor.Deps
	cfg    *config.Config
	logger *slog.Logger
}

// NewOrchestrator builds an Orchestrator. The logger may be nil.
func NewOrchestrator(store *ledger.Store, deps processor.Deps, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		deps:   deps,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "worker"),
	}
}

// ClaimAndProcessNext claims the oldest queued run and drives it to a
// terminal state. It reports whether a run was claimed; an empty queue is
// (false, nil).
func (o *Orchestrator) ClaimAndProcessNext(ctx context.Context) (bool, error) {
	run, err := o.store.ClaimNextQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next run: %w", err)
	}
	if run == nil {
		return false, nil
	}
	o.processClaimed(ctx, run)
	return true, nil
}

// ProcessRun drives one specific run. Runs already in a terminal state
// short-circuit untouched; a queued run is claimed through the same
// compare-and-swap every worker uses.
func (o *Orchestrator) ProcessRun(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s: %w", runID, ledger.ErrNotFound)
	}
	if run.Status.IsTerminal() {
		o.logger.Info("run already terminal",
			logging.String(logging.FieldRunID, runID),
			logging.String("status", string(run.Status)))
		return nil
	}
	if run.Status == ledger.RunQueued {
		claimed, err := o.store.ClaimRun(ctx, runID)
		if err != nil {
			return err
		}
		if claimed == nil {
			return fmt.Errorf("run %s was claimed by another worker", runID)
		}
		run = claimed
	}
	o.processClaimed(ctx, run)
	return nil
}

func (o *Orchestrator) processClaimed(ctx context.Context, run *ledger.Run) {
	requestID := uuid.NewString()
	log := o.logger.With(
		logging.String(logging.FieldRunID, run.RunID),
		logging.String(logging.FieldRequestID, requestID),
	)
	log.Info("run claimed",
		logging.String(logging.FieldExperimentID, run.ExperimentID),
		logging.String(logging.FieldVariantKey, run.VariantKey))

	stopHeartbeat := o.startHeartbeat(ctx, run.RunID)
	defer stopHeartbeat()

	outcome, err := o.executeRun(ctx, log, run)
	if err != nil {
		code := boundary.ErrorCode(err)
		log.Error("run failed",
			logging.String("error_code", code),
			logging.Error(err))
		if markErr := o.store.MarkRunFailed(ctx, run.RunID, code, err.Error()); markErr != nil {
			log.Error("commit failed state", logging.Error(markErr))
		}
		return
	}

	canonURI := "file://" + outcome.CanonPath
	if err := o.store.MarkRunSucceeded(ctx, run.RunID, canonURI, outcome.CanonHash); err != nil {
		log.Error("commit succeeded state", logging.Error(err))
		return
	}
	log.Info("run succeeded",
		logging.String("badge", string(outcome.Badge)),
		logging.String("output_hash", outcome.CanonHash))
}

func (o *Orchestrator) executeRun(ctx context.Context, log *slog.Logger, run *ledger.Run) (*processor.Outcome, error) {
	rc, err := o.BuildContext(ctx, run)
	if err != nil {
		return nil, err
	}
	deps := o.deps
	if deps.Store == nil {
		deps.Store = o.store
	}
	if deps.Logger == nil {
		deps.Logger = log
	}
	return deps.Process(ctx, *rc)
}

// BuildContext resolves a claimed run into the processor's immutable input:
// catalog rows, rendered prompt, seed, streaming input hashes. The stored
// spec hash is recomputed from the resolved content and must match; a
// mismatch means the inputs changed after enqueue and the run halts with an
// identity collision.
func (o *Orchestrator) BuildContext(ctx context.Context, run *ledger.Run) (*processor.RunContext, error) {
	exp, err := o.store.GetExperiment(ctx, run.ExperimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("experiment %s: %w", run.ExperimentID, ledger.ErrNotFound)
	}
	spec, err := o.store.GetGenerationSpec(ctx, exp.SpecID)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("generation spec %s: %w", exp.SpecID, ledger.ErrNotFound)
	}
	item, err := o.store.GetDatasetItem(ctx, run.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("dataset item %s: %w", run.ItemID, ledger.ErrNotFound)
	}

	audioPath := LocalPath(item.AudioURI)
	audioHash, err := identity.FileHash(audioPath)
	if err != nil {
		return nil, boundary.Wrap(boundary.ErrGenerationRetriable, "context", "hash audio", "", err)
	}

	var refImagePath string
	var refImageHash *string
	if item.RefImageURI != nil {
		refImagePath = LocalPath(*item.RefImageURI)
		hash, err := identity.FileHash(refImagePath)
		if err != nil {
			return nil, boundary.Wrap(boundary.ErrGenerationRetriable, "context", "hash reference image", "", err)
		}
		refImageHash = &hash
	}

	rendered := RenderPrompt(spec.PromptTemplate, item)
	seed := identity.SeedFromVariantKey(run.VariantKey)
	computed := identity.SpecHash(identity.SpecInput{
		Provider:       spec.Provider,
		Model:          spec.Model,
		ModelVersion:   spec.ModelVersion,
		RenderedPrompt: rendered,
		ParamsJSON:     spec.ParamsJSON,
		Seed:           seed,
		InputAudioHash: audioHash,
		RefImageHash:   refImageHash,
	})
	if computed != run.SpecHash {
		return nil, boundary.Wrap(boundary.ErrIdentityCollision, "context", "verify spec hash",
			fmt.Sprintf("stored %s, recomputed %s", run.SpecHash, computed), nil)
	}

	artifactDir := filepath.Join(o.cfg.Paths.ArtifactDir, "runs", run.RunID)
	return &processor.RunContext{
		Run:            *run,
		Spec:           *spec,
		Item:           *item,
		RenderedPrompt: rendered,
		Seed:           seed,
		SpecHash:       computed,
		AudioPath:      audioPath,
		RefImagePath:   refImagePath,
		ArtifactDir:    artifactDir,
	}, nil
}

// startHeartbeat refreshes the claimed run's heartbeat until the returned
// stop function is called.
func (o *Orchestrator) startHeartbeat(ctx context.Context, runID string) func() {
	interval := time.Duration(o.cfg.Worker.HeartbeatInterval) * time.Second
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := o.store.UpdateRunHeartbeat(hbCtx, runID); err != nil {
					o.logger.Warn("heartbeat update failed",
						logging.String(logging.FieldRunID, runID),
						logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// ReclaimStale returns running rows with expired heartbeats to the queue and
// logs how many were recovered.
func (o *Orchestrator) ReclaimStale(ctx context.Context) error {
	timeout := time.Duration(o.cfg.Worker.HeartbeatTimeout) * time.Second
	cutoff := time.Now().UTC().Add(-timeout)
	reclaimed, err := o.store.ReclaimStaleRunning(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		o.logger.Warn("requeued stale runs", logging.Int64("count", reclaimed))
	}
	return nil
}

// LocalPath resolves a stored artifact URI to a filesystem path. Only file
// URIs and bare paths are supported.
func LocalPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// RenderPrompt fills the spec's prompt template with dataset-item fields.
// Supported placeholders: {subject}, {item_id}.
func RenderPrompt(template string, item *ledger.DatasetItem) string {
	out := strings.ReplaceAll(template, "{subject}", item.SubjectID)
	out = strings.ReplaceAll(out, "{item_id}", item.ItemID)
	return out
}
