package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"mirage/internal/config"
	"mirage/internal/identity"
	"mirage/internal/ledger"
)

// MustOpenStore opens a ledger.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedCatalog inserts a dataset item, a generation spec and a draft experiment
// and returns their ids.
func SeedCatalog(t testing.TB, store *ledger.Store) (itemID, specID, experimentID string) {
	t.Helper()

	ctx := context.Background()
	itemID = "item-" + uuid.NewString()
	specID = "spec-" + uuid.NewString()
	experimentID = "exp-" + uuid.NewString()

	if err := store.InsertDatasetItem(ctx, ledger.DatasetItem{
		ItemID:         itemID,
		SubjectID:      "subject-a",
		SourceVideoURI: "file:///fixtures/source.mp4",
		AudioURI:       "file:///fixtures/audio.wav",
	}); err != nil {
		t.Fatalf("InsertDatasetItem: %v", err)
	}
	if err := store.InsertGenerationSpec(ctx, ledger.GenerationSpec{
		SpecID:         specID,
		Provider:       "mockgen",
		Model:          "mock-v1",
		PromptTemplate: "animate {subject}",
		ParamsJSON:     `{"fps":25}`,
		SeedPolicy:     "fixed",
	}); err != nil {
		t.Fatalf("InsertGenerationSpec: %v", err)
	}
	if err := store.InsertExperiment(ctx, ledger.Experiment{
		ExperimentID: experimentID,
		SpecID:       specID,
	}); err != nil {
		t.Fatalf("InsertExperiment: %v", err)
	}
	return itemID, specID, experimentID
}

// SeedRun enqueues one run for the given catalog rows and returns it. The run
// id is content-derived the same way production enqueueing derives it.
func SeedRun(t testing.TB, store *ledger.Store, experimentID, itemID, variantKey, specHash string) *ledger.Run {
	t.Helper()

	ctx := context.Background()
	runID := identity.RunID(experimentID, itemID, variantKey, specHash)
	if err := store.InsertRun(ctx, ledger.Run{
		RunID:        runID,
		ExperimentID: experimentID,
		ItemID:       itemID,
		VariantKey:   variantKey,
		SpecHash:     specHash,
	}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatalf("seeded run %s not found", runID)
	}
	return run
}
