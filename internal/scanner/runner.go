// Package scanner drives one scan, crawl or selective-scan job through the
// engine's phases and turns the outcome into model.Results.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/progress"
)

// ErrFatal marks errors that ended a job. The wrapped cause says why.
var ErrFatal = errors.New("scan job failed")

// State is a step of the job state machine.
type State string

const (
	StateInit              State = "init"
	StateTargetSet         State = "target_set"
	StateDiscoveryRunning  State = "discovery_running"
	StateDiscoveryDone     State = "discovery_done"
	StateActiveScanRunning State = "active_scan_running"
	StateActiveScanDone    State = "active_scan_done"
	StateResultsFetched    State = "results_fetched"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Reporter receives phase-local progress. progress.Tracker implements it.
type Reporter interface {
	Report(phase progress.Phase, local int) int
}

type nopReporter struct{}

func (nopReporter) Report(progress.Phase, int) int { return 0 }

// Runner executes jobs against an engine. It holds no per-job state, so one
// Runner serves every worker slot.
type Runner struct {
	eng    engine.Engine
	cfg    Config
	logger logging.Logger
	now    func() time.Time
}

func NewRunner(eng engine.Engine, cfg Config, logger logging.Logger) *Runner {
	return &Runner{
		eng:    eng,
		cfg:    cfg,
		logger: logging.OrNop(logger).With(logging.F("component", "scanner")),
		now:    time.Now,
	}
}

// job tracks one execution through the state machine.
type job struct {
	kind   model.TaskKind
	target string
	state  State
	start  time.Time
	logger logging.Logger
	rep    Reporter
}

func (r *Runner) newJob(kind model.TaskKind, target string, rep Reporter) *job {
	if rep == nil {
		rep = nopReporter{}
	}
	return &job{
		kind:   kind,
		target: target,
		state:  StateInit,
		start:  r.now(),
		logger: r.logger.With(logging.F("kind", string(kind)), logging.F("target", target)),
		rep:    rep,
	}
}

func (j *job) transition(s State) {
	j.logger.Debug("job state", logging.F("from", string(j.state)), logging.F("to", string(s)))
	j.state = s
}

// fail moves the job to StateFailed and wraps err as fatal.
func (j *job) fail(step string, err error) error {
	j.logger.Warn("job failed", logging.F("state", string(j.state)), logging.F("step", step), logging.Err(err))
	j.state = StateFailed
	if errors.Is(err, ErrFatal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrFatal, step, err)
}

// Scan runs the full pipeline: discovery, active scan, alert collection.
func (r *Runner) Scan(ctx context.Context, target string, mode model.ScanMode, rep Reporter) (*model.Results, error) {
	j := r.newJob(model.KindScan, target, rep)
	if err := r.setTarget(ctx, j); err != nil {
		return nil, err
	}

	maxChildren, recurse := r.cfg.MaxChildren, true
	if mode == model.ModeQuick {
		maxChildren, recurse = r.cfg.QuickMaxChildren, false
	}
	_, partialDiscovery, err := r.discover(ctx, j, maxChildren, recurse)
	if err != nil {
		return nil, err
	}

	partialActive, err := r.activeScan(ctx, j, target, r.cfg.InScopeOnly)
	if err != nil {
		return nil, err
	}

	j.rep.Report(progress.PhaseResults, 0)
	alerts, err := r.fetchAlerts(ctx, j, target)
	if err != nil {
		return nil, err
	}
	vulns := Normalize(alerts, r.now())
	j.transition(StateResultsFetched)

	res := r.finish(j, vulns)
	res.PartialDiscovery = partialDiscovery
	res.PartialActiveScan = partialActive
	return res, nil
}

// SelectiveScan registers each page with the engine, actively scans the base
// URL restricted to scope, then collects findings per page.
func (r *Runner) SelectiveScan(ctx context.Context, baseURL string, pages []string, rep Reporter) (*model.Results, error) {
	j := r.newJob(model.KindSelectiveScan, baseURL, rep)
	if err := r.setTarget(ctx, j); err != nil {
		return nil, err
	}
	for _, page := range pages {
		if err := r.eng.AccessURL(ctx, page); err != nil {
			if ctx.Err() != nil {
				return nil, j.fail("access page", ctx.Err())
			}
			j.logger.Warn("could not register page", logging.F("page", page), logging.Err(err))
		}
	}

	partialActive, err := r.activeScan(ctx, j, baseURL, true)
	if err != nil {
		return nil, err
	}

	j.rep.Report(progress.PhaseResults, 0)
	var collected []engine.Alert
	for _, page := range pages {
		alerts, err := r.fetchAlerts(ctx, j, page)
		if err != nil {
			return nil, err
		}
		collected = append(collected, alerts...)
	}
	vulns := Normalize(DedupAlerts(collected), r.now())
	j.transition(StateResultsFetched)

	res := r.finish(j, vulns)
	res.PartialActiveScan = partialActive
	return res, nil
}

// setTarget covers INIT -> TARGET_SET: connect, then make the engine
// request the target.
func (r *Runner) setTarget(ctx context.Context, j *job) error {
	j.rep.Report(progress.PhaseTargetSetup, 0)
	version, err := r.eng.Connect(ctx)
	if err != nil {
		return j.fail("connect", err)
	}
	j.logger.Debug("engine connected", logging.F("version", version))
	if err := r.eng.AccessURL(ctx, j.target); err != nil {
		return j.fail("access url", err)
	}
	j.transition(StateTargetSet)
	j.rep.Report(progress.PhaseTargetSetup, 100)
	return nil
}

// discover runs the spider to completion or timeout. A timeout stops the
// spider and continues with what was found.
func (r *Runner) discover(ctx context.Context, j *job, maxChildren int, recurse bool) (engine.Handle, bool, error) {
	j.rep.Report(progress.PhaseDiscoveryStartup, 0)
	h, err := r.eng.StartSpider(ctx, j.target, maxChildren, recurse)
	if err != nil {
		return "", false, j.fail("start spider", err)
	}
	j.transition(StateDiscoveryRunning)

	res, err := r.poll(ctx, j, "spider", h, r.eng.SpiderStatus, r.cfg.SpiderPollInterval, r.cfg.SpiderTimeout, func(pct int) {
		j.rep.Report(progress.PhaseDiscovery, pct)
	})
	if err != nil {
		return "", false, j.fail("poll spider", err)
	}
	if res.timedOut {
		j.logger.Warn("spider timed out, continuing with partial results",
			logging.F("timeout", r.cfg.SpiderTimeout), logging.F("last_status", res.last))
		r.bestEffortStop(ctx, j, "spider", func(c context.Context) error { return r.eng.StopSpider(c, h) })
	}
	j.transition(StateDiscoveryDone)
	j.rep.Report(progress.PhaseDiscovery, 100)
	return h, res.timedOut, nil
}

// activeScan runs the active scan to completion or timeout. A timeout stops
// the scan and the job goes on to collect whatever alerts exist.
func (r *Runner) activeScan(ctx context.Context, j *job, target string, inScopeOnly bool) (bool, error) {
	j.rep.Report(progress.PhaseActiveStartup, 0)
	h, err := r.eng.StartActiveScan(ctx, target, true, inScopeOnly)
	if err != nil {
		return false, j.fail("start active scan", err)
	}
	j.transition(StateActiveScanRunning)

	res, err := r.poll(ctx, j, "active scan", h, r.eng.ActiveScanStatus, r.cfg.ActivePollInterval, r.cfg.ActiveTimeout, func(pct int) {
		j.rep.Report(progress.PhaseActiveScan, pct)
	})
	if err != nil {
		return false, j.fail("poll active scan", err)
	}
	if res.timedOut {
		j.logger.Warn("active scan timed out, collecting existing alerts",
			logging.F("timeout", r.cfg.ActiveTimeout), logging.F("last_status", res.last))
		r.bestEffortStop(ctx, j, "active scan", func(c context.Context) error { return r.eng.StopActiveScan(c, h) })
	}
	j.transition(StateActiveScanDone)
	j.rep.Report(progress.PhaseActiveScan, 100)
	return res.timedOut, nil
}

// fetchAlerts treats an unreachable engine as fatal; any other error is
// logged and yields no findings.
func (r *Runner) fetchAlerts(ctx context.Context, j *job, baseURL string) ([]engine.Alert, error) {
	alerts, err := r.eng.Alerts(ctx, baseURL)
	if err == nil {
		return alerts, nil
	}
	if errors.Is(err, engine.ErrUnreachable) || ctx.Err() != nil {
		return nil, j.fail("fetch alerts", err)
	}
	j.logger.Warn("could not fetch alerts", logging.F("base_url", baseURL), logging.Err(err))
	return nil, nil
}

func (r *Runner) bestEffortStop(ctx context.Context, j *job, what string, stop func(context.Context) error) {
	if err := stop(ctx); err != nil {
		j.logger.Warn("stop failed", logging.F("phase", what), logging.Err(err))
	}
}

func (r *Runner) finish(j *job, vulns []model.Vulnerability) *model.Results {
	now := r.now()
	j.transition(StateDone)
	j.rep.Report(progress.PhaseDone, 100)
	j.logger.Info("job completed",
		logging.F("vulnerabilities", len(vulns)),
		logging.F("duration", now.Sub(j.start)))
	return &model.Results{
		Kind:            j.kind,
		URL:             j.target,
		Status:          model.StatusCompleted,
		Vulnerabilities: vulns,
		Summary:         model.Summarize(vulns),
		Duration:        now.Sub(j.start),
		Timestamp:       now,
	}
}
