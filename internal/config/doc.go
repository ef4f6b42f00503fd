// Package config loads and validates lisa-backend configuration from YAML
// files. Environment variables referenced as ${VAR} are expanded before
// parsing, and human-readable duration strings ("30s", "5m") are converted
// into time.Duration values. Missing optional fields receive defaults so a
// minimal config file only needs the server address and database path.
package config
