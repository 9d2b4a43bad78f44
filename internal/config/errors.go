package config

import "errors"

var (
	// ErrMissingUpstreamAPIKey means UPSTREAM_API_KEY was not supplied by
	// either the config file or the environment.
	ErrMissingUpstreamAPIKey = errors.New("config: UPSTREAM_API_KEY is required")

	// ErrMissingDatabaseURL means DATABASE_URL was not supplied by either
	// the config file or the environment.
	ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required")
)
