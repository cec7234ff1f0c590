// Package metrics defines the versioned metric bundle computed for each run
// and the threshold rules that derive a pass/flagged/reject badge from it.
package metrics
