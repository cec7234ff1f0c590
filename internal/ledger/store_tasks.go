package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `task_id, experiment_id, task_type, left_run_id, right_run_id,
    presented_left_run_id, presented_right_run_id, flip, status, created_at`

func scanHumanTask(row rowScanner) (*HumanTask, error) {
	var (
		task    HumanTask
		flip    int
		created string
	)
	if err := row.Scan(
		&task.TaskID, &task.ExperimentID, &task.TaskType, &task.LeftRunID, &task.RightRunID,
		&task.PresentedLeftRunID, &task.PresentedRightRunID, &flip, &task.Status, &created,
	); err != nil {
		return nil, err
	}
	task.Flip = flip != 0
	var err error
	if task.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &task, nil
}

// InsertTask records one pairwise comparison. Left/right must already be in
// canonical order; a second insert for the same pair within the experiment
// fails with ErrDuplicateTask, which generators treat as already-covered.
func (s *Store) InsertTask(ctx context.Context, task HumanTask) error {
	taskType := task.TaskType
	if taskType == "" {
		taskType = "pairwise"
	}
	status := task.Status
	if status == "" {
		status = TaskOpen
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO human_tasks (task_id, experiment_id, task_type, left_run_id, right_run_id,
             presented_left_run_id, presented_right_run_id, flip, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.ExperimentID, taskType, task.LeftRunID, task.RightRunID,
		task.PresentedLeftRunID, task.PresentedRightRunID, boolToInt(task.Flip), status,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task (%s, %s, %s): %w", task.ExperimentID, task.LeftRunID, task.RightRunID, ErrDuplicateTask)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by identifier.
func (s *Store) GetTask(ctx context.Context, taskID string) (*HumanTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM human_tasks WHERE task_id = ?`, taskID)
	task, err := scanHumanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ExistingPairs returns the canonical (left, right) pairs already covered by
// tasks in an experiment, keyed "left|right".
func (s *Store) ExistingPairs(ctx context.Context, experimentID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT left_run_id, right_run_id FROM human_tasks WHERE experiment_id = ?`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query existing pairs: %w", err)
	}
	defer rows.Close()

	pairs := make(map[string]struct{})
	for rows.Next() {
		var left, right string
		if err := rows.Scan(&left, &right); err != nil {
			return nil, err
		}
		pairs[left+"|"+right] = struct{}{}
	}
	return pairs, rows.Err()
}

// NextOpenTask returns the oldest open task in an experiment, or nil when the
// queue is drained.
func (s *Store) NextOpenTask(ctx context.Context, experimentID string) (*HumanTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM human_tasks
         WHERE experiment_id = ? AND status = ?
         ORDER BY created_at, task_id LIMIT 1`,
		experimentID, TaskOpen,
	)
	task, err := scanHumanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next open task: %w", err)
	}
	return task, nil
}

// TasksForExperiment returns all tasks of an experiment, optionally filtered
// by status.
func (s *Store) TasksForExperiment(ctx context.Context, experimentID string, statuses ...TaskStatus) ([]*HumanTask, error) {
	query := `SELECT ` + taskColumns + ` FROM human_tasks WHERE experiment_id = ?`
	args := []any{experimentID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, task_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*HumanTask
	for rows.Next() {
		task, err := scanHumanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkTaskDone closes an open or assigned task once a rating landed for it.
func (s *Store) MarkTaskDone(ctx context.Context, taskID string) error {
	return s.setTaskStatus(ctx, taskID, TaskDone, TaskOpen, TaskAssigned)
}

// MarkTaskVoid retires a task without a rating, e.g. when one of its runs was
// retracted. Void tasks drop out of aggregation.
func (s *Store) MarkTaskVoid(ctx context.Context, taskID string) error {
	return s.setTaskStatus(ctx, taskID, TaskVoid, TaskOpen, TaskAssigned)
}

func (s *Store) setTaskStatus(ctx context.Context, taskID string, to TaskStatus, from ...TaskStatus) error {
	query := `UPDATE human_tasks SET status = ? WHERE task_id = ? AND status IN (` + makePlaceholders(len(from)) + `)`
	args := []any{to, taskID}
	for _, status := range from {
		args = append(args, status)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return fmt.Errorf("%w: task %s is %s, cannot become %s", ErrInvalidTransition, taskID, current.Status, to)
}

// InsertRating appends one judgment for a task. Ratings are append-only; a
// correction is a new row from the same rater, never an update.
func (s *Store) InsertRating(ctx context.Context, rating HumanRating) error {
	if !ValidChoice(rating.ChoiceRealism) {
		return fmt.Errorf("invalid realism choice %q", rating.ChoiceRealism)
	}
	if !ValidChoice(rating.ChoiceLipsync) {
		return fmt.Errorf("invalid lipsync choice %q", rating.ChoiceLipsync)
	}
	var targetMatch any
	if rating.ChoiceTargetMatch != nil {
		if !ValidChoice(*rating.ChoiceTargetMatch) {
			return fmt.Errorf("invalid targetmatch choice %q", *rating.ChoiceTargetMatch)
		}
		targetMatch = string(*rating.ChoiceTargetMatch)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO human_ratings (rating_id, task_id, rater_id, choice_realism, choice_lipsync, choice_targetmatch, notes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rating.RatingID, rating.TaskID, rating.RaterID,
		rating.ChoiceRealism, rating.ChoiceLipsync, targetMatch,
		nullableString(rating.Notes), formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// RatingsForTask returns every rating submitted for a task, oldest first.
func (s *Store) RatingsForTask(ctx context.Context, taskID string) ([]*HumanRating, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rating_id, task_id, rater_id, choice_realism, choice_lipsync, choice_targetmatch, notes, created_at
         FROM human_ratings WHERE task_id = ? ORDER BY created_at, rating_id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*HumanRating
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

// RatingsForExperiment returns every rating on done tasks of an experiment,
// joined with the canonical pair it judged. This is the aggregation feed.
func (s *Store) RatingsForExperiment(ctx context.Context, experimentID string) ([]*RatedPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.rating_id, r.task_id, r.rater_id, r.choice_realism, r.choice_lipsync, r.choice_targetmatch, r.notes, r.created_at,
                t.left_run_id, t.right_run_id, t.flip
         FROM human_ratings r
         JOIN human_tasks t ON t.task_id = r.task_id
         WHERE t.experiment_id = ? AND t.status = ?
         ORDER BY r.created_at, r.rating_id`,
		experimentID, TaskDone,
	)
	if err != nil {
		return nil, fmt.Errorf("query experiment ratings: %w", err)
	}
	defer rows.Close()

	var pairs []*RatedPair
	for rows.Next() {
		var (
			pair    RatedPair
			target  sql.NullString
			notes   sql.NullString
			created string
			flip    int
		)
		if err := rows.Scan(
			&pair.Rating.RatingID, &pair.Rating.TaskID, &pair.Rating.RaterID,
			&pair.Rating.ChoiceRealism, &pair.Rating.ChoiceLipsync, &target, &notes, &created,
			&pair.LeftRunID, &pair.RightRunID, &flip,
		); err != nil {
			return nil, err
		}
		if target.Valid {
			choice := Choice(target.String)
			pair.Rating.ChoiceTargetMatch = &choice
		}
		pair.Rating.Notes = notes.String
		pair.Flip = flip != 0
		var err error
		if pair.Rating.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		pairs = append(pairs, &pair)
	}
	return pairs, rows.Err()
}

// RatedPair is one rating joined with the canonical pair of its task.
type RatedPair struct {
	Rating     HumanRating
	LeftRunID  string
	RightRunID string
	Flip       bool
}

func scanRating(row rowScanner) (*HumanRating, error) {
	var (
		rating  HumanRating
		target  sql.NullString
		notes   sql.NullString
		created string
	)
	if err := row.Scan(
		&rating.RatingID, &rating.TaskID, &rating.RaterID,
		&rating.ChoiceRealism, &rating.ChoiceLipsync, &target, &notes, &created,
	); err != nil {
		return nil, err
	}
	if target.Valid {
		choice := Choice(target.String)
		rating.ChoiceTargetMatch = &choice
	}
	rating.Notes = notes.String
	var err error
	if rating.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rating, nil
}
