// Package pairwise builds and serves human comparison tasks. Pair identity is
// canonical (sorted run ids) so coverage checks are order-independent; the
// randomized presentation order is recorded separately and never affects
// identity.
package pairwise

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"mirage/internal/ledger"
	"mirage/internal/logging"
)

// Engine generates and serves pairwise tasks over an experiment's runs.
type Engine struct {
	store  *ledger.Store
	logger *slog.Logger
}

// NewEngine builds an Engine. The logger may be nil.
func NewEngine(store *ledger.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logging.NewComponentLogger(logger, "pairwise"),
	}
}

// GenerateTasks creates one task per unordered pair of succeeded runs in the
// experiment, skipping pairs that already have a task. Idempotent: calling it
// again after new runs succeed only adds the missing pairs. Returns how many
// tasks were created.
func (e *Engine) GenerateTasks(ctx context.Context, experimentID string) (int, error) {
	runs, err := e.store.RunsForExperiment(ctx, experimentID, ledger.RunSucceeded)
	if err != nil {
		return 0, fmt.Errorf("list succeeded runs: %w", err)
	}
	if len(runs) < 2 {
		return 0, nil
	}

	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.RunID)
	}
	sort.Strings(ids)

	existing, err := e.store.ExistingPairs(ctx, experimentID)
	if err != nil {
		return 0, fmt.Errorf("list existing pairs: %w", err)
	}

	created := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			left, right := ids[i], ids[j]
			if _, covered := existing[left+"|"+right]; covered {
				continue
			}

			flip, err := coinFlip()
			if err != nil {
				return created, fmt.Errorf("coin flip: %w", err)
			}
			presentedLeft, presentedRight := left, right
			if flip {
				presentedLeft, presentedRight = right, left
			}

			task := ledger.HumanTask{
				TaskID:              uuid.NewString(),
				ExperimentID:        experimentID,
				LeftRunID:           left,
				RightRunID:          right,
				PresentedLeftRunID:  presentedLeft,
				PresentedRightRunID: presentedRight,
				Flip:                flip,
			}
			if err := e.store.InsertTask(ctx, task); err != nil {
				if errors.Is(err, ledger.ErrDuplicateTask) {
					// A concurrent generator covered this pair.
					continue
				}
				return created, err
			}
			created++
		}
	}

	e.logger.Info("task generation complete",
		logging.String(logging.FieldExperimentID, experimentID),
		logging.Int("runs", len(ids)),
		logging.Int("created", created))
	return created, nil
}

// NextOpenTask returns the oldest open task, or nil when none remain.
func (e *Engine) NextOpenTask(ctx context.Context, experimentID string) (*ledger.HumanTask, error) {
	return e.store.NextOpenTask(ctx, experimentID)
}

// Judgment carries one rater's choices for a task, expressed in presentation
// order as the rater saw them.
type Judgment struct {
	RaterID           string
	ChoiceRealism     ledger.Choice
	ChoiceLipsync     ledger.Choice
	ChoiceTargetMatch *ledger.Choice
	Notes             string
}

// SubmitRating appends the judgment and closes the task. Choices arrive in
// presentation order and are stored canonicalized: when the task was flipped,
// left/right choices swap so stored ratings always refer to the canonical
// pair order.
func (e *Engine) SubmitRating(ctx context.Context, taskID string, judgment Judgment) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, ledger.ErrNotFound)
	}
	if task.Status == ledger.TaskDone || task.Status == ledger.TaskVoid {
		return fmt.Errorf("%w: task %s is %s", ledger.ErrInvalidTransition, taskID, task.Status)
	}

	rating := ledger.HumanRating{
		RatingID:      uuid.NewString(),
		TaskID:        taskID,
		RaterID:       judgment.RaterID,
		ChoiceRealism: canonicalize(judgment.ChoiceRealism, task.Flip),
		ChoiceLipsync: canonicalize(judgment.ChoiceLipsync, task.Flip),
		Notes:         judgment.Notes,
	}
	if judgment.ChoiceTargetMatch != nil {
		canon := canonicalize(*judgment.ChoiceTargetMatch, task.Flip)
		rating.ChoiceTargetMatch = &canon
	}
	if err := e.store.InsertRating(ctx, rating); err != nil {
		return err
	}
	if err := e.store.MarkTaskDone(ctx, taskID); err != nil && !errors.Is(err, ledger.ErrInvalidTransition) {
		return err
	}

	e.logger.Info("rating recorded",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("rater_id", judgment.RaterID))
	return nil
}

// canonicalize maps a presentation-order choice back to canonical pair order.
func canonicalize(choice ledger.Choice, flip bool) ledger.Choice {
	if !flip {
		return choice
	}
	switch choice {
	case ledger.ChoiceLeft:
		return ledger.ChoiceRight
	case ledger.ChoiceRight:
		return ledger.ChoiceLeft
	default:
		return choice
	}
}

func coinFlip() (bool, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, err
	}
	return b[0]&1 == 1, nil
}
