package ledger

import "time"

// RunStatus represents the lifecycle of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// runTransitions is the full directed graph of permitted run status changes.
// Succeeded and failed are terminal: no edge leaves them.
var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning},
	RunRunning: {RunSucceeded, RunFailed},
}

// CanTransition reports whether the run status graph permits from -> to.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a run status can never change again.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ExperimentStatus moves forward only: draft -> running -> complete.
type ExperimentStatus string

const (
	ExperimentDraft    ExperimentStatus = "draft"
	ExperimentRunning  ExperimentStatus = "running"
	ExperimentComplete ExperimentStatus = "complete"
)

// CallStatus represents the lifecycle of a provider call. Completed and
// failed rows are never mutated again.
type CallStatus string

const (
	CallCreated   CallStatus = "created"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
)

// MetricStatus marks whether a metric bundle computed or failed. Either way
// the row is immutable once written.
type MetricStatus string

const (
	MetricSucceeded MetricStatus = "succeeded"
	MetricFailed    MetricStatus = "failed"
)

// TaskStatus represents the lifecycle of a pairwise comparison task.
type TaskStatus string

const (
	TaskOpen     TaskStatus = "open"
	TaskAssigned TaskStatus = "assigned"
	TaskDone     TaskStatus = "done"
	TaskVoid     TaskStatus = "void"
)

// Choice is a rater's per-criterion judgment on a presented pair.
type Choice string

const (
	ChoiceLeft  Choice = "left"
	ChoiceRight Choice = "right"
	ChoiceTie   Choice = "tie"
	ChoiceSkip  Choice = "skip"
)

// ValidChoice reports whether value is a known choice.
func ValidChoice(value Choice) bool {
	switch value {
	case ChoiceLeft, ChoiceRight, ChoiceTie, ChoiceSkip:
		return true
	}
	return false
}

// DatasetItem is one immutable source input (video, audio, optional
// reference image).
type DatasetItem struct {
	ItemID         string
	SubjectID      string
	SourceVideoURI string
	AudioURI       string
	RefImageURI    *string
	CreatedAt      time.Time
}

// GenerationSpec is an immutable generation configuration. A change creates
// a new spec row, never an edit.
type GenerationSpec struct {
	SpecID         string
	Provider       string
	Model          string
	ModelVersion   *string
	PromptTemplate string
	ParamsJSON     string
	SeedPolicy     string
	CreatedAt      time.Time
}

// Experiment links a generation spec to the runs executed under it.
type Experiment struct {
	ExperimentID string
	SpecID       string
	Status       ExperimentStatus
	CreatedAt    time.Time
}

// Run is the unit of work: one generated variant for one dataset item under
// one spec. Identity is content-derived (identity.RunID).
type Run struct {
	RunID          string
	ExperimentID   string
	ItemID         string
	VariantKey     string
	SpecHash       string
	Status         RunStatus
	OutputCanonURI string
	OutputHash     string
	ErrorCode      string
	ErrorDetail    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	LastHeartbeat  *time.Time
}

// ProviderCall records one attempt to invoke the generation provider. The
// (provider, idempotency_key) uniqueness is the dedup boundary that prevents
// double-spend.
type ProviderCall struct {
	ProviderCallID  string
	RunID           string
	Provider        string
	IdempotencyKey  string
	Attempt         int
	Status          CallStatus
	ProviderJobID   string
	RawArtifactURI  string
	RawArtifactHash string
	CostUSD         *float64
	LatencyMs       *int64
	CreatedAt       time.Time
}

// MetricResult is one versioned metric bundle for a run. Changing a metric's
// definition bumps its version rather than overwriting.
type MetricResult struct {
	MetricResultID string
	RunID          string
	MetricName     string
	MetricVersion  string
	ValueJSON      string
	Status         MetricStatus
	ErrorDetail    string
	CreatedAt      time.Time
}

// HumanTask is one pairwise comparison unit. Left/right run ids are stored in
// canonical (sorted) order for order-independent pair identity; the presented
// ordering is randomized separately and recorded via Flip.
type HumanTask struct {
	TaskID              string
	ExperimentID        string
	TaskType            string
	LeftRunID           string
	RightRunID          string
	PresentedLeftRunID  string
	PresentedRightRunID string
	Flip                bool
	Status              TaskStatus
	CreatedAt           time.Time
}

// HumanRating is one submitted judgment. Append-only: a correction is a new
// row, never an update.
type HumanRating struct {
	RatingID          string
	TaskID            string
	RaterID           string
	ChoiceRealism     Choice
	ChoiceLipsync     Choice
	ChoiceTargetMatch *Choice
	Notes             string
	CreatedAt         time.Time
}
