// Package config resolves runtime configuration from multiple sources (YAML
// files, environment variables, CLI flags) with precedence: CLI flags >
// Environment variables > YAML config > Defaults. Optional sections such as
// standalone output, telemetry and bundle analysis are resolved independently
// of each other, and any malformed or missing required value fails loading
// with an error naming the flag.
package config
