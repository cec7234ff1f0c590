// Package identity computes the content-derived digests that make runs,
// generation specs, and provider calls provably equivalent or provably
// distinct across retries and process restarts.
package identity
