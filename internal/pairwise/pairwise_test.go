package pairwise_test

import (
	"context"
	"errors"
	"testing"

	"mirage/internal/ledger"
	"mirage/internal/pairwise"
	"mirage/internal/testsupport"
)

func seedSucceededRuns(t *testing.T, store *ledger.Store, n int) (string, []string) {
	t.Helper()
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)

	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		run := testsupport.SeedRun(t, store, experimentID, itemID, "seed="+string(rune('1'+i)), "hash")
		claimed, err := store.ClaimNextQueued(ctx)
		if err != nil || claimed == nil {
			t.Fatalf("claim: run=%v err=%v", claimed, err)
		}
		if err := store.MarkRunSucceeded(ctx, claimed.RunID, "file:///out.mp4", "aa"); err != nil {
			t.Fatalf("MarkRunSucceeded: %v", err)
		}
		ids = append(ids, run.RunID)
	}
	return experimentID, ids
}

func TestGenerateTasksCoversAllPairsOnce(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	experimentID, _ := seedSucceededRuns(t, store, 4)
	engine := pairwise.NewEngine(store, nil)

	ctx := context.Background()
	created, err := engine.GenerateTasks(ctx, experimentID)
	if err != nil {
		t.Fatalf("GenerateTasks: %v", err)
	}
	if created != 6 {
		t.Fatalf("created %d tasks for 4 runs, want C(4,2)=6", created)
	}

	// Idempotent: a second pass adds nothing.
	created, err = engine.GenerateTasks(ctx, experimentID)
	if err != nil {
		t.Fatalf("second GenerateTasks: %v", err)
	}
	if created != 0 {
		t.Fatalf("second pass created %d tasks, want 0", created)
	}

	tasks, err := store.TasksForExperiment(ctx, experimentID)
	if err != nil {
		t.Fatalf("TasksForExperiment: %v", err)
	}
	if len(tasks) != 6 {
		t.Fatalf("stored %d tasks, want 6", len(tasks))
	}
	for _, task := range tasks {
		if task.LeftRunID >= task.RightRunID {
			t.Fatalf("pair not canonical: %s >= %s", task.LeftRunID, task.RightRunID)
		}
		presented := map[string]bool{task.PresentedLeftRunID: true, task.PresentedRightRunID: true}
		if !presented[task.LeftRunID] || !presented[task.RightRunID] {
			t.Fatalf("presented ids diverge from pair: %+v", task)
		}
		if task.Flip != (task.PresentedLeftRunID == task.RightRunID) {
			t.Fatalf("flip flag inconsistent with presentation: %+v", task)
		}
	}
}

func TestGenerateTasksIgnoresUnfinishedRuns(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	itemID, _, experimentID := testsupport.SeedCatalog(t, store)
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=1", "hash")
	testsupport.SeedRun(t, store, experimentID, itemID, "seed=2", "hash")

	created, err := pairwise.NewEngine(store, nil).GenerateTasks(context.Background(), experimentID)
	if err != nil {
		t.Fatalf("GenerateTasks: %v", err)
	}
	if created != 0 {
		t.Fatalf("queued runs produced %d tasks, want 0", created)
	}
}

func TestSubmitRatingCanonicalizesFlippedChoices(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	experimentID, ids := seedSucceededRuns(t, store, 2)
	engine := pairwise.NewEngine(store, nil)

	ctx := context.Background()
	left, right := ids[0], ids[1]
	if left > right {
		left, right = right, left
	}
	task := ledger.HumanTask{
		TaskID:              "task-flip",
		ExperimentID:        experimentID,
		LeftRunID:           left,
		RightRunID:          right,
		PresentedLeftRunID:  right,
		PresentedRightRunID: left,
		Flip:                true,
	}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	// The rater prefers what they saw on the left, which is the canonical
	// right run.
	if err := engine.SubmitRating(ctx, "task-flip", pairwise.Judgment{
		RaterID:       "rater-a",
		ChoiceRealism: ledger.ChoiceLeft,
		ChoiceLipsync: ledger.ChoiceTie,
	}); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}

	ratings, err := store.RatingsForTask(ctx, "task-flip")
	if err != nil || len(ratings) != 1 {
		t.Fatalf("RatingsForTask: ratings=%v err=%v", ratings, err)
	}
	if ratings[0].ChoiceRealism != ledger.ChoiceRight {
		t.Fatalf("flipped realism choice stored as %s, want right", ratings[0].ChoiceRealism)
	}
	if ratings[0].ChoiceLipsync != ledger.ChoiceTie {
		t.Fatalf("tie must stay tie under flip, got %s", ratings[0].ChoiceLipsync)
	}

	done, err := store.GetTask(ctx, "task-flip")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if done.Status != ledger.TaskDone {
		t.Fatalf("task status = %s, want done", done.Status)
	}

	err = engine.SubmitRating(ctx, "task-flip", pairwise.Judgment{
		RaterID:       "rater-b",
		ChoiceRealism: ledger.ChoiceRight,
		ChoiceLipsync: ledger.ChoiceSkip,
	})
	if !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected rejection on done task, got %v", err)
	}
}

func TestNextOpenTaskDrains(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	experimentID, _ := seedSucceededRuns(t, store, 2)
	engine := pairwise.NewEngine(store, nil)

	ctx := context.Background()
	if _, err := engine.GenerateTasks(ctx, experimentID); err != nil {
		t.Fatalf("GenerateTasks: %v", err)
	}

	task, err := engine.NextOpenTask(ctx, experimentID)
	if err != nil || task == nil {
		t.Fatalf("NextOpenTask: task=%v err=%v", task, err)
	}
	if err := engine.SubmitRating(ctx, task.TaskID, pairwise.Judgment{
		RaterID:       "rater-a",
		ChoiceRealism: ledger.ChoiceTie,
		ChoiceLipsync: ledger.ChoiceTie,
	}); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}

	task, err = engine.NextOpenTask(ctx, experimentID)
	if err != nil {
		t.Fatalf("NextOpenTask: %v", err)
	}
	if task != nil {
		t.Fatalf("expected drained task queue, got %+v", task)
	}
}
