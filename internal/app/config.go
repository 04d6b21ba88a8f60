package app

import (
	"time"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/scanner"
	"github.com/raysh454/scanqueue/internal/store"
	"github.com/raysh454/scanqueue/internal/worker"
)

// Config carries everything needed to assemble the coordinator and the
// components behind it.
type Config struct {
	Engine  engine.Config
	Scanner scanner.Config
	Pool    worker.Config
	Store   store.Config

	// ShutdownTimeout bounds how long Shutdown waits for running jobs.
	ShutdownTimeout time.Duration

	// RecoverOnStart fails tasks a previous process left unfinished.
	RecoverOnStart bool
	// InstanceID stamps accepted tasks; recovery only touches tasks with
	// this id.
	InstanceID string
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine:          engine.DefaultConfig(),
		Scanner:         scanner.DefaultConfig(),
		Pool:            worker.DefaultConfig(),
		Store:           store.DefaultConfig(),
		ShutdownTimeout: 15 * time.Second,
		RecoverOnStart:  true,
		InstanceID:      DefaultInstanceID(),
	}
}
