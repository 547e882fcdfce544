package config

import "errors"

// Configuration validation errors.
var (
	ErrEmptyDatabasePath   = errors.New("database path cannot be empty")
	ErrEmptyScript         = errors.New("local mode needs a fetcher script")
	ErrEmptyTransportsPath = errors.New("transports file path cannot be empty")
	ErrNoActiveTransports  = errors.New("no active transports configured")
)
