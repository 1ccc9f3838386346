// Package config loads the application configuration from a YAML file.
//
// The configuration covers storage paths (state database, framework
// definitions, encrypted context store), SSH connection defaults, retry
// policy overrides, and telemetry settings. Values omitted from the file
// fall back to the defaults from DefaultConfig. Loaded configurations
// are validated with struct tags before use.
package config
