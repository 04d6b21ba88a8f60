package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/logging"
)

type statusFunc func(ctx context.Context, h engine.Handle) (int, error)

type pollResult struct {
	last     int
	timedOut bool
}

// poll asks for status right away and then every interval until the phase
// reports 100, the timeout elapses, or ctx ends. A timeout is not an error.
// An invalid handle ends the phase at once. Consecutive unreachable errors
// are tolerated up to MaxPollErrors; any other status error means the
// engine answered, so it is logged and the phase keeps polling until its
// timeout.
func (r *Runner) poll(ctx context.Context, j *job, what string, h engine.Handle, status statusFunc,
	interval, timeout time.Duration, onProgress func(int)) (pollResult, error) {

	interval = max(interval, minPollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	maxErrs := max(r.cfg.MaxPollErrors, 1)
	var res pollResult
	errs := 0
	for {
		pct, err := status(ctx, h)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, engine.ErrInvalidHandle):
			return res, fmt.Errorf("%s status: %w", what, err)
		case errors.Is(err, engine.ErrUnreachable):
			errs++
			j.logger.Warn("status poll failed",
				logging.F("phase", what),
				logging.F("handle", string(h)),
				logging.F("consecutive", errs),
				logging.Err(err))
			if errs >= maxErrs {
				return res, fmt.Errorf("%s status failed %d times in a row: %w", what, errs, err)
			}
		case err != nil:
			errs = 0
			j.logger.Warn("status poll rejected, retrying",
				logging.F("phase", what),
				logging.F("handle", string(h)),
				logging.Err(err))
		default:
			errs = 0
			res.last = pct
			if onProgress != nil {
				onProgress(pct)
			}
			if pct >= 100 {
				return res, nil
			}
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-deadline:
			res.timedOut = true
			return res, nil
		case <-ticker.C:
		}
	}
}
