// Package config resolves the gateway configuration from defaults, an
// optional YAML file, environment variables and command-line flags, in
// that order of precedence. The resolved Config is immutable for the
// lifetime of the process.
package config
