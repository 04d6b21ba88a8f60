package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/raysh454/scanqueue/internal/logging"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendConsul = "consul"
)

// Config selects and configures a store backend.
type Config struct {
	Backend        string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ConsulAddr     string
	ConsulToken    string
	ConsulPrefix   string
	ConnectRetries int
}

func DefaultConfig() Config {
	return Config{
		Backend:        BackendMemory,
		SQLitePath:     "scanqueue.db",
		RedisAddr:      "localhost:6379",
		ConsulAddr:     "127.0.0.1:8500",
		ConsulPrefix:   defaultConsulPrefix,
		ConnectRetries: 5,
	}
}

// Open builds the configured backend and waits for it to answer a ping,
// retrying with exponential backoff.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (TaskStore, error) {
	logger = logging.OrNop(logger).With(logging.F("component", "store"), logging.F("backend", cfg.Backend))

	var (
		s   TaskStore
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		s, err = OpenSQLite(cfg.SQLitePath, logger)
	case BackendRedis:
		s = NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case BackendConsul:
		s, err = NewConsulStore(cfg.ConsulAddr, cfg.ConsulToken, cfg.ConsulPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = time.Minute

	operation := func() error { return s.Ping(ctx) }
	notify := func(err error, next time.Duration) {
		logger.Warn("store not ready, retrying", logging.Err(err), logging.F("next", next))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(retries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store %s not ready after retries: %w", cfg.Backend, err)
	}
	logger.Info("store ready")
	return s, nil
}
