package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/scanner"
	"github.com/raysh454/scanqueue/internal/store"
	"github.com/raysh454/scanqueue/internal/worker"
)

// Application is the runtime state container. It owns the store, the
// engine client, the worker pool and the coordinator built on top of them.
type Application struct {
	Config      *Config
	Logger      logging.Logger
	Store       store.TaskStore
	Engine      engine.Engine
	Coordinator *Coordinator
}

// NewApplication opens the store, builds the engine client and starts the
// worker pool. reg receives the pool metrics; nil keeps them private.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger, reg prometheus.Registerer) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger = logging.OrNop(logger)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	eng, err := engine.NewZAPClient(cfg.Engine, logger, nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("engine client: %w", err)
	}

	return assemble(cfg, logger, st, eng, reg), nil
}

// NewApplicationWith builds an Application from already constructed parts.
func NewApplicationWith(cfg *Config, logger logging.Logger, st store.TaskStore, eng engine.Engine, reg prometheus.Registerer) *Application {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return assemble(cfg, logging.OrNop(logger), st, eng, reg)
}

func assemble(cfg *Config, logger logging.Logger, st store.TaskStore, eng engine.Engine, reg prometheus.Registerer) *Application {
	var opts []worker.Option
	if reg != nil {
		opts = append(opts, worker.WithRegistry(reg))
	}
	pool := worker.New(cfg.Pool, logger, opts...)
	runner := scanner.NewRunner(eng, cfg.Scanner, logger)

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Engine:      eng,
		Coordinator: NewCoordinator(st, runner, pool, logger, WithInstanceID(cfg.InstanceID)),
	}
}

// Start checks the engine is reachable and, when configured, recovers tasks
// a previous process left behind. An unreachable engine is logged, not
// fatal: tasks fail individually until it comes back.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if version, err := a.Engine.Connect(ctx); err != nil {
		a.Logger.Warn("scan engine not reachable at startup", logging.Err(err))
	} else {
		a.Logger.Info("scan engine connected", logging.F("version", version))
	}

	if a.Config.RecoverOnStart {
		if _, err := a.Coordinator.RecoverInterrupted(ctx); err != nil {
			return fmt.Errorf("recover interrupted tasks: %w", err)
		}
	}
	a.Logger.Info("application started")
	return nil
}

// Shutdown drains the pool, bounded by Config.ShutdownTimeout, then closes
// the store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	if a.Config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := a.Coordinator.Close(ctx); err != nil {
		a.Logger.Warn("pool shutdown returned error", logging.Err(err))
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
