// Package demo seeds a self-contained evaluation loop: one dataset item, a
// mock-provider spec, an experiment, and a queued run per seed variant.
// Everything is deterministic so the demo can double as a pipeline fixture.
package demo

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"mirage/internal/config"
	"mirage/internal/fileutil"
	"mirage/internal/ledger"
	"mirage/internal/logging"
	"mirage/internal/worker"
)

const (
	ExperimentID = "demo"
	ItemID       = "demo_item"
	SpecID       = "demo_spec"
)

// Seeds are the demo variant seeds, one queued run each.
var Seeds = []int{42, 123, 456}

// Result reports what Seed created.
type Result struct {
	ExperimentID string
	RunIDs       []string
	Existing     bool
}

// Seed creates the demo experiment and its runs. Idempotent: an existing demo
// experiment is left untouched and reported via Existing.
func Seed(ctx context.Context, store *ledger.Store, cfg *config.Config, logger *slog.Logger) (*Result, error) {
	log := logging.NewComponentLogger(logger, "demo")

	if existing, err := store.GetExperiment(ctx, ExperimentID); err != nil {
		return nil, err
	} else if existing != nil {
		log.Info("demo experiment already seeded")
		return &Result{ExperimentID: ExperimentID, Existing: true}, nil
	}

	assetDir := filepath.Join(cfg.Paths.DataDir, "demo_assets")
	videoPath := filepath.Join(assetDir, "demo_source.mp4")
	audioPath := filepath.Join(assetDir, "demo_audio.wav")
	if err := fileutil.WriteFileOnce(videoPath, demoBytes("video", 8192)); err != nil {
		return nil, fmt.Errorf("write demo video: %w", err)
	}
	if err := fileutil.WriteFileOnce(audioPath, demoBytes("audio", 4096)); err != nil {
		return nil, fmt.Errorf("write demo audio: %w", err)
	}

	if err := store.InsertDatasetItem(ctx, ledger.DatasetItem{
		ItemID:         ItemID,
		SubjectID:      "demo_subject",
		SourceVideoURI: "file://" + videoPath,
		AudioURI:       "file://" + audioPath,
	}); err != nil {
		return nil, err
	}
	modelVersion := "1.0"
	if err := store.InsertGenerationSpec(ctx, ledger.GenerationSpec{
		SpecID:         SpecID,
		Provider:       "mockgen",
		Model:          "mock-v1",
		ModelVersion:   &modelVersion,
		PromptTemplate: "Generate a talking head video of {subject}.",
		ParamsJSON:     `{"quality":"demo"}`,
		SeedPolicy:     `{"seeds":[42,123,456]}`,
	}); err != nil {
		return nil, err
	}
	if err := store.InsertExperiment(ctx, ledger.Experiment{
		ExperimentID: ExperimentID,
		SpecID:       SpecID,
	}); err != nil {
		return nil, err
	}
	if err := store.AdvanceExperiment(ctx, ExperimentID, ledger.ExperimentDraft, ledger.ExperimentRunning); err != nil {
		return nil, err
	}

	result := &Result{ExperimentID: ExperimentID}
	for _, seed := range Seeds {
		variantKey := fmt.Sprintf("seed=%d", seed)
		run, err := worker.Enqueue(ctx, store, ExperimentID, ItemID, variantKey)
		if err != nil {
			if errors.Is(err, ledger.ErrDuplicateRun) {
				continue
			}
			return nil, fmt.Errorf("enqueue %s: %w", variantKey, err)
		}
		result.RunIDs = append(result.RunIDs, run.RunID)
	}

	log.Info("demo experiment seeded",
		logging.String(logging.FieldExperimentID, ExperimentID),
		logging.Int("runs", len(result.RunIDs)))
	return result, nil
}

// demoBytes generates deterministic placeholder media content.
func demoBytes(label string, size int) []byte {
	out := make([]byte, 0, size)
	counter := 0
	for len(out) < size {
		block := sha256.Sum256([]byte(fmt.Sprintf("mirage-demo|%s|%d", label, counter)))
		out = append(out, block[:]...)
		counter++
	}
	return out[:size]
}
