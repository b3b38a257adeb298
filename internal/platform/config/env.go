package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Option adjusts how environment variables are resolved.
type Option func(*env.Options)

// WithEnvironment replaces the process environment with values. Tests use it
// to avoid mutating global state.
func WithEnvironment(values map[string]string) Option {
	return func(opts *env.Options) {
		opts.Environment = values
	}
}

// WithPrefix prepends prefix to every env tag of target.
func WithPrefix(prefix string) Option {
	return func(opts *env.Options) {
		opts.Prefix = prefix
	}
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any, options ...Option) error {
	opts := env.Options{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
