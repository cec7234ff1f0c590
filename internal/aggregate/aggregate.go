// Package aggregate turns rated pairwise tasks into per-variant win rates and
// a recommended pick. Only ratings on done tasks count; void tasks and their
// ratings are invisible here.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"mirage/internal/ledger"
)

// Points per criterion: an outright win scores 0.5, a tie scores 0.25 for
// each side, a skip scores nothing. Realism and lipsync are the scored
// criteria; targetmatch is advisory and never enters the win rate.
const (
	winPoints = 0.5
	tiePoints = 0.25
)

// Score is one run's standing in an experiment.
type Score struct {
	RunID      string
	VariantKey string
	Points     float64
	// Comparisons counts the ratings that judged this run at least once:
	// a rating whose every scored criterion was skipped is excluded.
	Comparisons int
	WinRate     float64
}

// Summary is the aggregation result for one experiment.
type Summary struct {
	ExperimentID string
	Scores       []Score
	// RecommendedPick is the run id with the highest win rate; ties break
	// to the lexicographically smallest run id. Empty without any rating.
	RecommendedPick string
	TotalRatings    int
}

// Summarize computes win rates for an experiment. Ratings are stored in
// canonical pair order, so choices apply directly to left_run_id and
// right_run_id. The denominator is per run: points / (2 x comparisons that
// judged the run).
func Summarize(ctx context.Context, store *ledger.Store, experimentID string) (*Summary, error) {
	runs, err := store.RunsForExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	variantByRun := make(map[string]string, len(runs))
	for _, run := range runs {
		variantByRun[run.RunID] = run.VariantKey
	}

	rated, err := store.RatingsForExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}

	points := make(map[string]float64)
	comparisons := make(map[string]int)
	for _, pair := range rated {
		choices := scoredChoices(pair.Rating)
		if allSkipped(choices) {
			continue
		}
		comparisons[pair.LeftRunID]++
		comparisons[pair.RightRunID]++
		for _, choice := range choices {
			switch choice {
			case ledger.ChoiceLeft:
				points[pair.LeftRunID] += winPoints
			case ledger.ChoiceRight:
				points[pair.RightRunID] += winPoints
			case ledger.ChoiceTie:
				points[pair.LeftRunID] += tiePoints
				points[pair.RightRunID] += tiePoints
			}
		}
	}

	summary := &Summary{
		ExperimentID: experimentID,
		TotalRatings: len(rated),
	}
	for _, run := range runs {
		score := Score{
			RunID:       run.RunID,
			VariantKey:  run.VariantKey,
			Points:      points[run.RunID],
			Comparisons: comparisons[run.RunID],
		}
		if score.Comparisons > 0 {
			score.WinRate = score.Points / (2 * float64(score.Comparisons))
		}
		summary.Scores = append(summary.Scores, score)
	}

	sort.Slice(summary.Scores, func(i, j int) bool {
		a, b := summary.Scores[i], summary.Scores[j]
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.RunID < b.RunID
	})
	if len(summary.Scores) > 0 && summary.TotalRatings > 0 {
		summary.RecommendedPick = summary.Scores[0].RunID
	}
	return summary, nil
}

func scoredChoices(rating ledger.HumanRating) []ledger.Choice {
	return []ledger.Choice{rating.ChoiceRealism, rating.ChoiceLipsync}
}

func allSkipped(choices []ledger.Choice) bool {
	for _, choice := range choices {
		if choice != ledger.ChoiceSkip {
			return false
		}
	}
	return true
}
