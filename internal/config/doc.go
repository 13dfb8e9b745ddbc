// Package config loads the siphon configuration from a JSON file, fills in
// defaults and applies SIPHON_* environment overrides. Validate reports every
// problem as a CONFIG_FAILURE so the process can refuse to start.
package config
