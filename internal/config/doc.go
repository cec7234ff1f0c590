// Package config loads, validates, and defaults the TOML configuration for
// the mirage ledger and worker.
package config
