// Package config provides environment-based configuration for the
// framegate service.
//
// Configuration is loaded from environment variables via envconfig,
// with sane defaults for local development. Each functional area has
// its own section struct so packages can depend on just the slice of
// configuration they need.
package config
