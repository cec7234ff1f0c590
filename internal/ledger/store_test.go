package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mirage/internal/ledger"
	"mirage/internal/testsupport"
)

func TestInsertRunRejectsDuplicateIdentity(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	run := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "spechash-a")

	err := store.InsertRun(context.Background(), ledger.Run{
		RunID:        run.RunID,
		ExperimentID: experimentID,
		ItemID:       itemID,
		VariantKey:   "seed=1",
		SpecHash:     "spechash-a",
	})
	if !errors.Is(err, ledger.ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}

	runs, err := store.RunsForExperiment(context.Background(), experimentID)
	if err != nil {
		t.Fatalf("RunsForExperiment: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected exactly one run after duplicate insert, got %d", len(runs))
	}
}

func TestClaimNextQueuedFlipsOldestToRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	first := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash-a")
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=2", "hash-b")

	ctx := context.Background()
	claimed, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed run")
	}
	if claimed.RunID != first.RunID {
		t.Fatalf("expected oldest run %s, claimed %s", first.RunID, claimed.RunID)
	}
	if claimed.Status != ledger.RunRunning {
		t.Fatalf("claimed run status = %s, want running", claimed.Status)
	}
	if claimed.StartedAt == nil || claimed.LastHeartbeat == nil {
		t.Fatal("claim must set started_at and last_heartbeat")
	}

	second, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("second ClaimNextQueued: %v", err)
	}
	if second == nil || second.RunID == claimed.RunID {
		t.Fatalf("second claim must pick the remaining run, got %+v", second)
	}

	third, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("third ClaimNextQueued: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue, claimed %s", third.RunID)
	}
}

func TestClaimRunTargetsOnlyThatRun(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	older := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash-a")
	newer := testsupport.SeedRun(t, store, experimentID, itemID, "seed=2", "hash-b")

	ctx := context.Background()
	claimed, err := store.ClaimRun(ctx, newer.RunID)
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	if claimed == nil || claimed.RunID != newer.RunID {
		t.Fatalf("expected claim of %s, got %+v", newer.RunID, claimed)
	}
	if claimed.Status != ledger.RunRunning || claimed.StartedAt == nil || claimed.LastHeartbeat == nil {
		t.Fatalf("claim did not set running state: %+v", claimed)
	}

	// The older queued run must be untouched.
	untouched, err := store.GetRun(ctx, older.RunID)
	if err != nil || untouched == nil {
		t.Fatalf("GetRun: run=%v err=%v", untouched, err)
	}
	if untouched.Status != ledger.RunQueued {
		t.Fatalf("older run status = %s, want queued", untouched.Status)
	}

	// A second targeted claim loses the compare-and-swap.
	again, err := store.ClaimRun(ctx, newer.RunID)
	if err != nil {
		t.Fatalf("second ClaimRun: %v", err)
	}
	if again != nil {
		t.Fatalf("expected nil for a non-queued run, got %+v", again)
	}

	if _, err := store.ClaimRun(ctx, "no-such-run"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestConcurrentClaimsNeverShareARun(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	for i := 0; i < 6; i++ {
		testsupport.SeedRun(t, store, experimentID, itemID, "seed="+string(rune('1'+i)), "hash")
	}

	const claimers = 6
	results := make(chan string, claimers)
	errs := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			run, err := store.ClaimNextQueued(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if run == nil {
				errs <- nil
				return
			}
			results <- run.RunID
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < claimers; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("claim error: %v", err)
			}
		case id := <-results:
			if seen[id] {
				t.Fatalf("run %s claimed twice", id)
			}
			seen[id] = true
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for claimers")
		}
	}
}

func TestTerminalRunsRejectFurtherTransitions(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	ctx := context.Background()
	claimed, err := store.ClaimNextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextQueued: run=%v err=%v", claimed, err)
	}

	if err := store.MarkRunSucceeded(ctx, claimed.RunID, "file:///artifacts/out.mp4", "deadbeef"); err != nil {
		t.Fatalf("MarkRunSucceeded: %v", err)
	}

	if err := store.MarkRunFailed(ctx, claimed.RunID, "provider_error", "late failure"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on terminal run, got %v", err)
	}
	if err := store.MarkRunSucceeded(ctx, claimed.RunID, "file:///other.mp4", "beef"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-success, got %v", err)
	}

	run, err := store.GetRun(ctx, claimed.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.RunSucceeded || run.OutputCanonURI != "file:///artifacts/out.mp4" || run.OutputHash != "deadbeef" {
		t.Fatalf("terminal state mutated: %+v", run)
	}
	if run.EndedAt == nil {
		t.Fatal("succeeded run must record ended_at")
	}
}

func TestMarkRunOnQueuedRowIsRejected(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	run := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	err := store.MarkRunSucceeded(context.Background(), run.RunID, "file:///x.mp4", "aa")
	if !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for queued->succeeded, got %v", err)
	}
}

func TestReclaimStaleRunningRequeues(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	ctx := context.Background()
	claimed, err := store.ClaimNextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextQueued: run=%v err=%v", claimed, err)
	}

	// A cutoff before the claim leaves the fresh heartbeat alone.
	reclaimed, err := store.ReclaimStaleRunning(ctx, claimed.LastHeartbeat.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleRunning: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("fresh heartbeat reclaimed: %d", reclaimed)
	}

	// A cutoff after the heartbeat treats the worker as dead.
	reclaimed, err = store.ReclaimStaleRunning(ctx, claimed.LastHeartbeat.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleRunning: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one reclaimed run, got %d", reclaimed)
	}

	run, err := store.GetRun(ctx, claimed.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.RunQueued {
		t.Fatalf("reclaimed run status = %s, want queued", run.Status)
	}
	if run.StartedAt != nil || run.LastHeartbeat != nil {
		t.Fatalf("reclaim must clear started_at and last_heartbeat: %+v", run)
	}
}

func TestProviderCallIdempotencyKeyIsUnique(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	run := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	ctx := context.Background()
	call := ledger.ProviderCall{
		ProviderCallID: "call-1",
		RunID:          run.RunID,
		Provider:       "mockgen",
		IdempotencyKey: "idem-key-1",
	}
	if err := store.CreateProviderCall(ctx, call); err != nil {
		t.Fatalf("CreateProviderCall: %v", err)
	}

	call.ProviderCallID = "call-2"
	if err := store.CreateProviderCall(ctx, call); !errors.Is(err, ledger.ErrDuplicateProviderCall) {
		t.Fatalf("expected ErrDuplicateProviderCall, got %v", err)
	}

	existing, err := store.GetProviderCallByKey(ctx, "mockgen", "idem-key-1")
	if err != nil {
		t.Fatalf("GetProviderCallByKey: %v", err)
	}
	if existing == nil || existing.ProviderCallID != "call-1" {
		t.Fatalf("expected the first call row, got %+v", existing)
	}
	if existing.Status != ledger.CallCreated || existing.Attempt != 1 {
		t.Fatalf("unexpected defaults: %+v", existing)
	}
}

func TestCompletedProviderCallIsImmutable(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	run := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	ctx := context.Background()
	if err := store.CreateProviderCall(ctx, ledger.ProviderCall{
		ProviderCallID: "call-1",
		RunID:          run.RunID,
		Provider:       "mockgen",
		IdempotencyKey: "idem-key-1",
	}); err != nil {
		t.Fatalf("CreateProviderCall: %v", err)
	}

	cost := 0.04
	latency := int64(1800)
	if err := store.CompleteProviderCall(ctx, "call-1", "job-9", "file:///raw.mp4", "cafe", &cost, &latency); err != nil {
		t.Fatalf("CompleteProviderCall: %v", err)
	}

	if err := store.CompleteProviderCall(ctx, "call-1", "job-10", "file:///other.mp4", "dead", nil, nil); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-complete, got %v", err)
	}
	if err := store.FailProviderCall(ctx, "call-1"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on fail-after-complete, got %v", err)
	}

	existing, err := store.GetProviderCallByKey(ctx, "mockgen", "idem-key-1")
	if err != nil {
		t.Fatalf("GetProviderCallByKey: %v", err)
	}
	if existing.Status != ledger.CallCompleted || existing.RawArtifactURI != "file:///raw.mp4" || existing.RawArtifactHash != "cafe" {
		t.Fatalf("completed row mutated: %+v", existing)
	}
	if existing.CostUSD == nil || *existing.CostUSD != cost {
		t.Fatalf("cost not recorded: %+v", existing.CostUSD)
	}
	if existing.LatencyMs == nil || *existing.LatencyMs != latency {
		t.Fatalf("latency not recorded: %+v", existing.LatencyMs)
	}
}

func TestMetricResultsAreInsertOnly(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	run := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")

	ctx := context.Background()
	result := ledger.MetricResult{
		MetricResultID: "mr-1",
		RunID:          run.RunID,
		MetricName:     "MetricBundleV1",
		MetricVersion:  "1",
		ValueJSON:      `{"decode_ok":true}`,
		Status:         ledger.MetricSucceeded,
	}
	if err := store.InsertMetricResult(ctx, result); err != nil {
		t.Fatalf("InsertMetricResult: %v", err)
	}

	result.MetricResultID = "mr-2"
	result.ValueJSON = `{"decode_ok":false}`
	if err := store.InsertMetricResult(ctx, result); !errors.Is(err, ledger.ErrDuplicateMetricResult) {
		t.Fatalf("expected ErrDuplicateMetricResult, got %v", err)
	}

	// A version bump is a new row, not an overwrite.
	result.MetricVersion = "2"
	if err := store.InsertMetricResult(ctx, result); err != nil {
		t.Fatalf("insert at new version: %v", err)
	}

	v1, err := store.GetMetricResult(ctx, run.RunID, "MetricBundleV1", "1")
	if err != nil {
		t.Fatalf("GetMetricResult: %v", err)
	}
	if v1 == nil || v1.ValueJSON != `{"decode_ok":true}` {
		t.Fatalf("version 1 row changed: %+v", v1)
	}
}

func TestTaskPairUniquenessAndRatings(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	left := testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash-a")
	right := testsupport.SeedRun(t, store, experimentID, itemID, "seed=2", "hash-b")

	ctx := context.Background()
	task := ledger.HumanTask{
		TaskID:              "task-1",
		ExperimentID:        experimentID,
		LeftRunID:           left.RunID,
		RightRunID:          right.RunID,
		PresentedLeftRunID:  right.RunID,
		PresentedRightRunID: left.RunID,
		Flip:                true,
	}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	task.TaskID = "task-2"
	if err := store.InsertTask(ctx, task); !errors.Is(err, ledger.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}

	pairs, err := store.ExistingPairs(ctx, experimentID)
	if err != nil {
		t.Fatalf("ExistingPairs: %v", err)
	}
	if _, ok := pairs[left.RunID+"|"+right.RunID]; !ok || len(pairs) != 1 {
		t.Fatalf("unexpected pairs: %v", pairs)
	}

	open, err := store.NextOpenTask(ctx, experimentID)
	if err != nil || open == nil || open.TaskID != "task-1" {
		t.Fatalf("NextOpenTask: task=%v err=%v", open, err)
	}
	if !open.Flip || open.PresentedLeftRunID != right.RunID {
		t.Fatalf("presentation order lost: %+v", open)
	}

	if err := store.InsertRating(ctx, ledger.HumanRating{
		RatingID:      "rating-1",
		TaskID:        "task-1",
		RaterID:       "rater-a",
		ChoiceRealism: ledger.ChoiceLeft,
		ChoiceLipsync: ledger.ChoiceTie,
	}); err != nil {
		t.Fatalf("InsertRating: %v", err)
	}
	if err := store.MarkTaskDone(ctx, "task-1"); err != nil {
		t.Fatalf("MarkTaskDone: %v", err)
	}

	// Corrections append; nothing is overwritten.
	if err := store.InsertRating(ctx, ledger.HumanRating{
		RatingID:      "rating-2",
		TaskID:        "task-1",
		RaterID:       "rater-a",
		ChoiceRealism: ledger.ChoiceRight,
		ChoiceLipsync: ledger.ChoiceTie,
		Notes:         "misclicked the first time",
	}); err != nil {
		t.Fatalf("append correction: %v", err)
	}

	ratings, err := store.RatingsForTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("RatingsForTask: %v", err)
	}
	if len(ratings) != 2 {
		t.Fatalf("expected both rating rows, got %d", len(ratings))
	}

	if err := store.MarkTaskDone(ctx, "task-1"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on done task, got %v", err)
	}

	rated, err := store.RatingsForExperiment(ctx, experimentID)
	if err != nil {
		t.Fatalf("RatingsForExperiment: %v", err)
	}
	if len(rated) != 2 {
		t.Fatalf("expected two rated rows, got %d", len(rated))
	}
	if rated[0].LeftRunID != left.RunID || rated[0].RightRunID != right.RunID || !rated[0].Flip {
		t.Fatalf("rated pair lost canonical order or flip: %+v", rated[0])
	}
}

func TestInsertRatingRejectsUnknownChoice(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	err := store.InsertRating(context.Background(), ledger.HumanRating{
		RatingID:      "rating-1",
		TaskID:        "task-1",
		RaterID:       "rater-a",
		ChoiceRealism: ledger.Choice("maybe"),
		ChoiceLipsync: ledger.ChoiceTie,
	})
	if err == nil {
		t.Fatal("expected rejection of unknown choice")
	}
}

func TestAdvanceExperimentMovesForwardOnly(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, _, experimentID := testsupport.SeedCatalog(t, store)

	ctx := context.Background()
	if err := store.AdvanceExperiment(ctx, experimentID, ledger.ExperimentDraft, ledger.ExperimentRunning); err != nil {
		t.Fatalf("draft->running: %v", err)
	}
	if err := store.AdvanceExperiment(ctx, experimentID, ledger.ExperimentRunning, ledger.ExperimentDraft); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected rejection of backward edge, got %v", err)
	}
	if err := store.AdvanceExperiment(ctx, experimentID, ledger.ExperimentDraft, ledger.ExperimentRunning); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected stale-from rejection, got %v", err)
	}
	if err := store.AdvanceExperiment(ctx, experimentID, ledger.ExperimentRunning, ledger.ExperimentComplete); err != nil {
		t.Fatalf("running->complete: %v", err)
	}
}

func TestCountRunsByStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=2", "hash")

	ctx := context.Background()
	claimed, err := store.ClaimNextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextQueued: run=%v err=%v", claimed, err)
	}
	if err := store.MarkRunSucceeded(ctx, claimed.RunID, "file:///out.mp4", "aa"); err != nil {
		t.Fatalf("MarkRunSucceeded: %v", err)
	}

	counts, err := store.CountRunsByStatus(ctx, experimentID)
	if err != nil {
		t.Fatalf("CountRunsByStatus: %v", err)
	}
	if counts[ledger.RunQueued] != 1 || counts[ledger.RunSucceeded] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
