package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/raysh454/scanqueue/internal/engine"
)

// ─── Engine ────────────────────────────────────────────────────────────

// FakeEngine implements engine.Engine with scripted behaviour.
//
// Status polls walk SpiderSteps / ScanSteps per handle, repeating the last
// value once exhausted; nil scripts complete on the first poll. When Gate is
// non-nil every Connect blocks until the gate is closed, after reporting on
// Entered (if set).
type FakeEngine struct {
	Version string

	// FailConnects makes the first N Connect calls fail as unreachable.
	FailConnects int
	ConnectErr   error
	AccessErr    error
	// SpiderHandle / ScanHandle override the raw handle returned by the
	// start calls; they go through engine.ParseHandle like a real client.
	SpiderHandle string
	ScanHandle   string
	SpiderSteps  []int
	ScanSteps    []int
	// SpiderErrAfter makes spider status polls fail with ErrUnreachable
	// once this many polls succeeded. Zero disables it.
	SpiderErrAfter int
	// SpiderStatusErr, when set, is returned by every spider status poll.
	SpiderStatusErr error
	SpiderURLs      []string
	AlertList       []engine.Alert
	AlertsErr       error

	Gate    chan struct{}
	Entered chan string

	mu            sync.Mutex
	nextID        int
	connects      int
	polls         map[engine.Handle]int
	Accessed      []string
	SpiderCalls   []SpiderCall
	StoppedSpider []engine.Handle
	StoppedScan   []engine.Handle
	ScanTargets   []string
	AlertQueries  []string
}

var _ engine.Engine = (*FakeEngine)(nil)

// SpiderCall records the arguments of one StartSpider call.
type SpiderCall struct {
	URL         string
	MaxChildren int
	Recurse     bool
}

func (f *FakeEngine) Connect(ctx context.Context) (string, error) {
	if f.Entered != nil {
		select {
		case f.Entered <- "connect":
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.FailConnects {
		return "", fmt.Errorf("%w: dial tcp: connection refused", engine.ErrUnreachable)
	}
	if f.ConnectErr != nil {
		return "", f.ConnectErr
	}
	if f.Version == "" {
		return "fake-1.0", nil
	}
	return f.Version, nil
}

func (f *FakeEngine) AccessURL(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accessed = append(f.Accessed, url)
	return f.AccessErr
}

func (f *FakeEngine) StartSpider(_ context.Context, url string, maxChildren int, recurse bool) (engine.Handle, error) {
	f.mu.Lock()
	f.SpiderCalls = append(f.SpiderCalls, SpiderCall{URL: url, MaxChildren: maxChildren, Recurse: recurse})
	f.mu.Unlock()
	return f.start(f.SpiderHandle)
}

func (f *FakeEngine) SpiderStatus(_ context.Context, h engine.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpiderErrAfter > 0 && f.polls[h] >= f.SpiderErrAfter {
		return 0, fmt.Errorf("%w: connection reset", engine.ErrUnreachable)
	}
	if f.SpiderStatusErr != nil {
		return 0, f.SpiderStatusErr
	}
	return f.step(h, f.SpiderSteps), nil
}

func (f *FakeEngine) SpiderResults(context.Context, engine.Handle) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.SpiderURLs...), nil
}

func (f *FakeEngine) StopSpider(_ context.Context, h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoppedSpider = append(f.StoppedSpider, h)
	return nil
}

func (f *FakeEngine) StartActiveScan(_ context.Context, url string, _, _ bool) (engine.Handle, error) {
	f.mu.Lock()
	f.ScanTargets = append(f.ScanTargets, url)
	f.mu.Unlock()
	return f.start(f.ScanHandle)
}

func (f *FakeEngine) ActiveScanStatus(_ context.Context, h engine.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step(h, f.ScanSteps), nil
}

func (f *FakeEngine) StopActiveScan(_ context.Context, h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoppedScan = append(f.StoppedScan, h)
	return nil
}

// Alerts returns the configured alerts whose URL starts with baseURL.
func (f *FakeEngine) Alerts(_ context.Context, baseURL string) ([]engine.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AlertQueries = append(f.AlertQueries, baseURL)
	if f.AlertsErr != nil {
		return nil, f.AlertsErr
	}
	out := []engine.Alert{}
	for _, a := range f.AlertList {
		if strings.HasPrefix(a.URL, baseURL) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Connects returns how many Connect calls completed.
func (f *FakeEngine) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *FakeEngine) start(override string) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if override != "" {
		return engine.ParseHandle(override)
	}
	f.nextID++
	return engine.Handle(strconv.Itoa(f.nextID)), nil
}

// step must be called with f.mu held.
func (f *FakeEngine) step(h engine.Handle, script []int) int {
	if f.polls == nil {
		f.polls = make(map[engine.Handle]int)
	}
	i := f.polls[h]
	f.polls[h] = i + 1
	if len(script) == 0 {
		return 100
	}
	if i >= len(script) {
		return script[len(script)-1]
	}
	return script[i]
}
