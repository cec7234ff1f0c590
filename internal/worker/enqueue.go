package worker

import (
	"context"
	"fmt"

	"mirage/internal/identity"
	"mirage/internal/ledger"
)

// Enqueue derives a run's content identity and inserts it queued. The spec
// hash is computed here from the same resolved inputs BuildContext will
// verify later, so an input that changes between enqueue and claim surfaces
// as an identity collision instead of a silently different artifact.
func Enqueue(ctx context.Context, store *ledger.Store, experimentID, itemID, variantKey string) (*ledger.Run, error) {
	exp, err := store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("experiment %s: %w", experimentID, ledger.ErrNotFound)
	}
	spec, err := store.GetGenerationSpec(ctx, exp.SpecID)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("generation spec %s: %w", exp.SpecID, ledger.ErrNotFound)
	}
	item, err := store.GetDatasetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("dataset item %s: %w", itemID, ledger.ErrNotFound)
	}

	audioHash, err := identity.FileHash(LocalPath(item.AudioURI))
	if err != nil {
		return nil, fmt.Errorf("hash audio: %w", err)
	}
	var refImageHash *string
	if item.RefImageURI != nil {
		hash, err := identity.FileHash(LocalPath(*item.RefImageURI))
		if err != nil {
			return nil, fmt.Errorf("hash reference image: %w", err)
		}
		refImageHash = &hash
	}

	rendered := RenderPrompt(spec.PromptTemplate, item)
	seed := identity.SeedFromVariantKey(variantKey)
	specHash := identity.SpecHash(identity.SpecInput{
		Provider:       spec.Provider,
		Model:          spec.Model,
		ModelVersion:   spec.ModelVersion,
		RenderedPrompt: rendered,
		ParamsJSON:     spec.ParamsJSON,
		Seed:           seed,
		InputAudioHash: audioHash,
		RefImageHash:   refImageHash,
	})
	runID := identity.RunID(experimentID, itemID, variantKey, specHash)

	run := ledger.Run{
		RunID:        runID,
		ExperimentID: experimentID,
		ItemID:       itemID,
		VariantKey:   variantKey,
		SpecHash:     specHash,
	}
	if err := store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	return store.GetRun(ctx, runID)
}
