package logging

// Standardized attribute keys. Shared constants keep log queries stable
// across components.
const (
	FieldComponent    = "component"
	FieldEventType    = "event_type"
	FieldErrorHint    = "error_hint"
	FieldRunID        = "run_id"
	FieldExperimentID = "experiment_id"
	FieldItemID       = "item_id"
	FieldVariantKey   = "variant_key"
	FieldTaskID       = "task_id"
	FieldStage        = "stage"
	FieldRequestID    = "request_id"
)
