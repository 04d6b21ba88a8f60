package scanner

import "time"

// Config tunes how a job drives the engine.
type Config struct {
	SpiderPollInterval time.Duration
	SpiderTimeout      time.Duration
	ActivePollInterval time.Duration
	ActiveTimeout      time.Duration

	// MaxChildren bounds the spider for full-site scans and crawls; 0 lets
	// the engine decide.
	MaxChildren int
	// QuickMaxChildren bounds the non-recursive spider of a quick scan.
	QuickMaxChildren int
	// MaxCrawlPages caps the pages a crawl returns.
	MaxCrawlPages int
	// MaxPollErrors is the number of consecutive failed status polls after
	// which the engine is considered gone.
	MaxPollErrors int
	// InScopeOnly is passed to the active scan of a full scan. Selective
	// scans always restrict to scope.
	InScopeOnly bool
}

func DefaultConfig() Config {
	return Config{
		SpiderPollInterval: 2 * time.Second,
		SpiderTimeout:      60 * time.Second,
		ActivePollInterval: 3 * time.Second,
		ActiveTimeout:      120 * time.Second,
		MaxChildren:        50,
		QuickMaxChildren:   10,
		MaxCrawlPages:      20,
		MaxPollErrors:      5,
		InScopeOnly:        true,
	}
}

// minPollInterval keeps a misconfigured interval from spinning the engine.
const minPollInterval = 10 * time.Millisecond
