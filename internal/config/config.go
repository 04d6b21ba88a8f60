// Package config loads runtime settings from an optional config file, an
// optional .env file and SCANQUEUE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/raysh454/scanqueue/internal/app"
	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/scanner"
	"github.com/raysh454/scanqueue/internal/server"
	"github.com/raysh454/scanqueue/internal/store"
	"github.com/raysh454/scanqueue/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g.
// SCANQUEUE_ENGINE_BASE_URL or SCANQUEUE_POOL_WORKERS.
const EnvPrefix = "SCANQUEUE"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StreamRecheck   time.Duration `mapstructure:"stream_recheck"`
}

type EngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	AlertPageSize  int           `mapstructure:"alert_page_size"`
}

type ScannerConfig struct {
	SpiderPollInterval time.Duration `mapstructure:"spider_poll_interval"`
	SpiderTimeout      time.Duration `mapstructure:"spider_timeout"`
	ActivePollInterval time.Duration `mapstructure:"active_poll_interval"`
	ActiveTimeout      time.Duration `mapstructure:"active_timeout"`
	MaxChildren        int           `mapstructure:"max_children"`
	QuickMaxChildren   int           `mapstructure:"quick_max_children"`
	MaxCrawlPages      int           `mapstructure:"max_crawl_pages"`
	MaxPollErrors      int           `mapstructure:"max_poll_errors"`
	InScopeOnly        bool          `mapstructure:"in_scope_only"`
}

type PoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueWarn int `mapstructure:"queue_warn"`
}

type StoreConfig struct {
	Backend        string `mapstructure:"backend"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	ConsulAddr     string `mapstructure:"consul_addr"`
	ConsulToken    string `mapstructure:"consul_token"`
	ConsulPrefix   string `mapstructure:"consul_prefix"`
	ConnectRetries int    `mapstructure:"connect_retries"`
	// RecoverOnStart fails tasks a previous process left unfinished.
	RecoverOnStart bool `mapstructure:"recover_on_start"`
	// InstanceID owns the tasks this process accepts; defaults to the host name.
	InstanceID string `mapstructure:"instance_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default mirrors the defaults of the packages the sections feed.
func Default() *Config {
	a := app.DefaultConfig()
	s := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:      s.ListenAddr,
			ReadTimeout:     s.ReadTimeout,
			HealthTimeout:   s.HealthTimeout,
			ShutdownTimeout: a.ShutdownTimeout,
			StreamRecheck:   s.StreamRecheck,
		},
		Engine: EngineConfig{
			BaseURL:        a.Engine.BaseURL,
			APIKey:         a.Engine.APIKey,
			RequestTimeout: a.Engine.RequestTimeout,
			RateLimit:      a.Engine.RateLimit,
			Burst:          a.Engine.Burst,
			AlertPageSize:  a.Engine.AlertPageSize,
		},
		Scanner: ScannerConfig{
			SpiderPollInterval: a.Scanner.SpiderPollInterval,
			SpiderTimeout:      a.Scanner.SpiderTimeout,
			ActivePollInterval: a.Scanner.ActivePollInterval,
			ActiveTimeout:      a.Scanner.ActiveTimeout,
			MaxChildren:        a.Scanner.MaxChildren,
			QuickMaxChildren:   a.Scanner.QuickMaxChildren,
			MaxCrawlPages:      a.Scanner.MaxCrawlPages,
			MaxPollErrors:      a.Scanner.MaxPollErrors,
			InScopeOnly:        a.Scanner.InScopeOnly,
		},
		Pool: PoolConfig{
			Workers:   a.Pool.Workers,
			QueueWarn: a.Pool.QueueWarn,
		},
		Store: StoreConfig{
			Backend:        a.Store.Backend,
			SQLitePath:     a.Store.SQLitePath,
			RedisAddr:      a.Store.RedisAddr,
			RedisPassword:  a.Store.RedisPassword,
			RedisDB:        a.Store.RedisDB,
			ConsulAddr:     a.Store.ConsulAddr,
			ConsulToken:    a.Store.ConsulToken,
			ConsulPrefix:   a.Store.ConsulPrefix,
			ConnectRetries: a.Store.ConnectRetries,
			RecoverOnStart: a.RecoverOnStart,
			InstanceID:     a.InstanceID,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Options point Load at optional files. Empty paths are skipped; a missing
// .env file is not an error, a missing config file is.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load resolves the configuration: defaults, then the config file, then
// the .env file and process environment.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Every key needs a default for AutomaticEnv to reach it during
	// Unmarshal.
	for key, value := range defaultKeys(Default()) {
		v.SetDefault(key, value)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.Workers < 1 {
		errs = append(errs, fmt.Errorf("pool.workers must be at least 1, got %d", c.Pool.Workers))
	}
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendSQLite, store.BackendRedis, store.BackendConsul:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, sqlite, redis, consul", c.Store.Backend))
	}
	if c.Engine.BaseURL == "" {
		errs = append(errs, errors.New("engine.base_url is required"))
	}
	if c.Scanner.SpiderTimeout <= 0 || c.Scanner.ActiveTimeout <= 0 {
		errs = append(errs, errors.New("scanner phase timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// AppConfig maps the sections onto the application's component configs.
func (c *Config) AppConfig() *app.Config {
	return &app.Config{
		Engine: engine.Config{
			BaseURL:        c.Engine.BaseURL,
			APIKey:         c.Engine.APIKey,
			RequestTimeout: c.Engine.RequestTimeout,
			RateLimit:      c.Engine.RateLimit,
			Burst:          c.Engine.Burst,
			AlertPageSize:  c.Engine.AlertPageSize,
		},
		Scanner: scanner.Config{
			SpiderPollInterval: c.Scanner.SpiderPollInterval,
			SpiderTimeout:      c.Scanner.SpiderTimeout,
			ActivePollInterval: c.Scanner.ActivePollInterval,
			ActiveTimeout:      c.Scanner.ActiveTimeout,
			MaxChildren:        c.Scanner.MaxChildren,
			QuickMaxChildren:   c.Scanner.QuickMaxChildren,
			MaxCrawlPages:      c.Scanner.MaxCrawlPages,
			MaxPollErrors:      c.Scanner.MaxPollErrors,
			InScopeOnly:        c.Scanner.InScopeOnly,
		},
		Pool: worker.Config{
			Workers:   c.Pool.Workers,
			QueueWarn: c.Pool.QueueWarn,
		},
		Store: store.Config{
			Backend:        c.Store.Backend,
			SQLitePath:     c.Store.SQLitePath,
			RedisAddr:      c.Store.RedisAddr,
			RedisPassword:  c.Store.RedisPassword,
			RedisDB:        c.Store.RedisDB,
			ConsulAddr:     c.Store.ConsulAddr,
			ConsulToken:    c.Store.ConsulToken,
			ConsulPrefix:   c.Store.ConsulPrefix,
			ConnectRetries: c.Store.ConnectRetries,
		},
		ShutdownTimeout: c.Server.ShutdownTimeout,
		RecoverOnStart:  c.Store.RecoverOnStart,
		InstanceID:      c.Store.InstanceID,
	}
}

// ServerConfig maps the server section onto server.Config.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		ListenAddr:    c.Server.ListenAddr,
		ReadTimeout:   c.Server.ReadTimeout,
		HealthTimeout: c.Server.HealthTimeout,
		StreamRecheck: c.Server.StreamRecheck,
	}
}

func defaultKeys(d *Config) map[string]any {
	return map[string]any{
		"server.listen_addr":      d.Server.ListenAddr,
		"server.read_timeout":     d.Server.ReadTimeout,
		"server.health_timeout":   d.Server.HealthTimeout,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,
		"server.stream_recheck":   d.Server.StreamRecheck,

		"engine.base_url":        d.Engine.BaseURL,
		"engine.api_key":         d.Engine.APIKey,
		"engine.request_timeout": d.Engine.RequestTimeout,
		"engine.rate_limit":      d.Engine.RateLimit,
		"engine.burst":           d.Engine.Burst,
		"engine.alert_page_size": d.Engine.AlertPageSize,

		"scanner.spider_poll_interval": d.Scanner.SpiderPollInterval,
		"scanner.spider_timeout":       d.Scanner.SpiderTimeout,
		"scanner.active_poll_interval": d.Scanner.ActivePollInterval,
		"scanner.active_timeout":       d.Scanner.ActiveTimeout,
		"scanner.max_children":         d.Scanner.MaxChildren,
		"scanner.quick_max_children":   d.Scanner.QuickMaxChildren,
		"scanner.max_crawl_pages":      d.Scanner.MaxCrawlPages,
		"scanner.max_poll_errors":      d.Scanner.MaxPollErrors,
		"scanner.in_scope_only":        d.Scanner.InScopeOnly,

		"pool.workers":    d.Pool.Workers,
		"pool.queue_warn": d.Pool.QueueWarn,

		"store.backend":          d.Store.Backend,
		"store.sqlite_path":      d.Store.SQLitePath,
		"store.redis_addr":       d.Store.RedisAddr,
		"store.redis_password":   d.Store.RedisPassword,
		"store.redis_db":         d.Store.RedisDB,
		"store.consul_addr":      d.Store.ConsulAddr,
		"store.consul_token":     d.Store.ConsulToken,
		"store.consul_prefix":    d.Store.ConsulPrefix,
		"store.connect_retries":  d.Store.ConnectRetries,
		"store.recover_on_start": d.Store.RecoverOnStart,
		"store.instance_id":      d.Store.InstanceID,

		"log.level": d.Log.Level,
	}
}
