// Package ledger persists the run-processing ledger in SQLite and enforces
// its correctness invariants at the storage boundary: content-derived
// uniqueness, the run status transition graph, provider-call deduplication,
// versioned metric results, and append-only ratings.
package ledger
