// Package config loads, normalizes, and validates Fetcharr's TOML
// configuration. Configuration is constructed before any logger exists;
// consumers receive the resulting Config explicitly.
package config
