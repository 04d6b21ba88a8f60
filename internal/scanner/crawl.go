package scanner

import (
	"context"
	"errors"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/progress"
	"github.com/raysh454/scanqueue/internal/utils"
)

const discoveredPageTitle = "Discovered Page"

// Crawl runs only the discovery phase and returns the in-scope pages found.
func (r *Runner) Crawl(ctx context.Context, target string, rep Reporter) (*model.Results, error) {
	j := r.newJob(model.KindCrawl, target, rep)
	if err := r.setTarget(ctx, j); err != nil {
		return nil, err
	}

	h, partial, err := r.discover(ctx, j, r.cfg.MaxChildren, true)
	if err != nil {
		return nil, err
	}

	j.rep.Report(progress.PhaseResults, 0)
	urls, err := r.eng.SpiderResults(ctx, h)
	if err != nil {
		if errors.Is(err, engine.ErrUnreachable) || ctx.Err() != nil {
			return nil, j.fail("spider results", err)
		}
		j.logger.Warn("could not read spider results, keeping the seed only", logging.Err(err))
	}
	j.transition(StateResultsFetched)

	filtered := FilterPages(target, urls, r.cfg.MaxCrawlPages)
	pages := make([]model.Page, 0, len(filtered))
	for _, u := range filtered {
		pages = append(pages, model.Page{URL: u, Title: discoveredPageTitle, StatusCode: 200})
	}

	res := r.finish(j, nil)
	res.Vulnerabilities = nil
	res.Summary = nil
	res.Pages = pages
	res.PartialDiscovery = partial
	return res, nil
}

// FilterPages keeps the URLs on the seed's host with query, fragment and
// trailing slash stripped, removes duplicates, puts the seed first and caps the list at
// limit (no cap when limit <= 0). URLs that fail to parse are dropped.
func FilterPages(seed string, urls []string, limit int) []string {
	seedTools, err := utils.NewURLTools(seed)
	if err != nil {
		return nil
	}
	opts := utils.CanonicalizeOptions{DropQuery: true, StripTrailingSlash: true}

	var out []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		c, err := utils.Canonicalize(raw, opts)
		if err != nil {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(seed)
	for _, raw := range urls {
		t, err := utils.NewURLTools(raw)
		if err != nil || !seedTools.SameHost(t) {
			continue
		}
		add(raw)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
