package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	ReadTimeout time.Duration
	// HealthTimeout bounds the engine and store checks behind /health.
	HealthTimeout time.Duration
	// StreamRecheck is how often a task stream re-reads the task status, so
	// a terminal event dropped by a full subscriber buffer still ends it.
	StreamRecheck time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8000",
		ReadTimeout:   15 * time.Second,
		HealthTimeout: 5 * time.Second,
		StreamRecheck: 2 * time.Second,
	}
}
