// Package cli defines the scanqueue command tree: a long-running API server
// and one-shot scan, crawl and selective-scan runs that print the result as
// JSON.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	ucli "github.com/urfave/cli/v3"

	"github.com/raysh454/scanqueue/internal/app"
	"github.com/raysh454/scanqueue/internal/config"
	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/server"
)

// NewCommand builds the root command. Results of one-shot runs go to out;
// logs go to stderr.
func NewCommand(out io.Writer) *ucli.Command {
	if out == nil {
		out = os.Stdout
	}
	return &ucli.Command{
		Name:   "scanqueue",
		Usage:  "queue and run web vulnerability scans against a ZAP engine",
		Writer: out,
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:  "config",
				Usage: "YAML config file",
			},
			&ucli.StringFlag{
				Name:  "env",
				Usage: "environment file path",
				Value: ".env",
			},
			&ucli.StringFlag{
				Name:  "engine-url",
				Usage: "scan engine base URL (overrides config)",
			},
			&ucli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides config)",
			},
		},
		Commands: []*ucli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and worker pool",
				Flags: []ucli.Flag{
					&ucli.StringFlag{
						Name:  "listen",
						Usage: "listen address (overrides config)",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "scan",
				Usage: "scan one URL and print the result",
				Flags: []ucli.Flag{
					&ucli.StringFlag{
						Name:     "url",
						Usage:    "target URL",
						Required: true,
					},
					&ucli.StringFlag{
						Name:  "mode",
						Usage: "full_site or quick",
						Value: string(model.ModeFullSite),
					},
				},
				Action: func(ctx context.Context, cmd *ucli.Command) error {
					return runOnce(ctx, cmd, func(ctx context.Context, c *app.Coordinator) (string, error) {
						return c.SubmitScan(ctx, cmd.String("url"), model.ParseScanMode(cmd.String("mode")))
					})
				},
			},
			{
				Name:  "crawl",
				Usage: "discover the pages of one URL and print them",
				Flags: []ucli.Flag{
					&ucli.StringFlag{
						Name:     "url",
						Usage:    "target URL",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *ucli.Command) error {
					return runOnce(ctx, cmd, func(ctx context.Context, c *app.Coordinator) (string, error) {
						return c.SubmitCrawl(ctx, cmd.String("url"))
					})
				},
			},
			{
				Name:  "select",
				Usage: "scan pages picked from a stored crawl (needs a persistent store)",
				Flags: []ucli.Flag{
					&ucli.StringFlag{
						Name:     "crawl-id",
						Usage:    "id of a completed crawl task",
						Required: true,
					},
					&ucli.StringSliceFlag{
						Name:     "page",
						Usage:    "page URL to scan, repeatable",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *ucli.Command) error {
					return runOnce(ctx, cmd, func(ctx context.Context, c *app.Coordinator) (string, error) {
						return c.SubmitSelectiveScan(ctx, cmd.String("crawl-id"), cmd.StringSlice("page"))
					})
				},
			},
		},
	}
}

// loadConfig resolves the config and applies the global flag overrides.
func loadConfig(cmd *ucli.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: cmd.String("config"),
		EnvFile:    cmd.String("env"),
	})
	if err != nil {
		return nil, err
	}
	if u := cmd.String("engine-url"); u != "" {
		cfg.Engine.BaseURL = u
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func serveAction(ctx context.Context, cmd *ucli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("listen"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	logger := logging.NewZerologLogger(os.Stderr, cfg.Log.Level, "")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.NewApplication(ctx, cfg.AppConfig(), logger, reg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	httpServer := server.NewServer(cfg.ServerConfig(), a, reg).HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", logging.F("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("api server stopped", logging.Err(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Err(err))
	}
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

type submitFunc func(ctx context.Context, c *app.Coordinator) (string, error)

// runOnce assembles an in-process application, submits one task, waits for
// it and prints its result.
func runOnce(ctx context.Context, cmd *ucli.Command, submit submitFunc) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewZerologLogger(os.Stderr, cfg.Log.Level, "")

	appCfg := cfg.AppConfig()
	// A one-shot run may share a store with a live server; its unfinished
	// tasks are not ours to fail.
	appCfg.RecoverOnStart = false

	a, err := app.NewApplication(ctx, appCfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.Background()) }()
	if err := a.Start(ctx); err != nil {
		return err
	}

	id, err := submit(ctx, a.Coordinator)
	if err != nil {
		return err
	}
	logger.Info("task submitted", logging.F("task_id", id))

	res, err := WaitForResult(ctx, a.Coordinator, id, time.Second)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if res.Status == model.StatusFailed {
		return fmt.Errorf("task %s failed: %s", id, res.Error)
	}
	return nil
}

// WaitForResult blocks until task id is terminal and returns its result.
// Events wake it early; the ticker covers events dropped on a full buffer.
func WaitForResult(ctx context.Context, c *app.Coordinator, id string, recheck time.Duration) (*model.Results, error) {
	events, cancel := c.Subscribe(id)
	defer cancel()
	ticker := time.NewTicker(recheck)
	defer ticker.Stop()

	for {
		view, err := c.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return c.GetResults(ctx, id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}
