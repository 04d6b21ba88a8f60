// Package progress maps per-phase engine percentages onto one overall
// 0..100 task progress figure.
package progress

import (
	"fmt"
	"sync"
)

// Phase is a stage of a scan job.
type Phase int

const (
	PhaseTargetSetup Phase = iota
	PhaseDiscoveryStartup
	PhaseDiscovery
	PhaseActiveStartup
	PhaseActiveScan
	PhaseResults
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseTargetSetup:
		return "target_setup"
	case PhaseDiscoveryStartup:
		return "discovery_startup"
	case PhaseDiscovery:
		return "discovery"
	case PhaseActiveStartup:
		return "active_startup"
	case PhaseActiveScan:
		return "active_scan"
	case PhaseResults:
		return "results"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type band struct{ lo, hi int }

var bands = map[Phase]band{
	PhaseTargetSetup:      {0, 10},
	PhaseDiscoveryStartup: {10, 30},
	PhaseDiscovery:        {30, 60},
	PhaseActiveStartup:    {60, 70},
	PhaseActiveScan:       {70, 95},
	PhaseResults:          {95, 100},
	PhaseDone:             {100, 100},
}

// Overall converts a phase-local percentage into overall progress. The
// local value is clamped to 0..100 and the result is floored.
func Overall(phase Phase, local int) int {
	b, ok := bands[phase]
	if !ok {
		return 0
	}
	local = max(0, min(100, local))
	return b.lo + (b.hi-b.lo)*local/100
}

// Message is the human readable status for a phase.
func Message(phase Phase, local int) string {
	local = max(0, min(100, local))
	switch phase {
	case PhaseTargetSetup:
		return "Setting up target..."
	case PhaseDiscoveryStartup:
		return "Starting spider scan..."
	case PhaseDiscovery:
		return fmt.Sprintf("Spider scan: %d%%", local)
	case PhaseActiveStartup:
		return "Starting active scan..."
	case PhaseActiveScan:
		return fmt.Sprintf("Active scan: %d%%", local)
	case PhaseResults:
		return "Processing results..."
	case PhaseDone:
		return "Scan completed"
	default:
		return ""
	}
}

// Update is one progress report.
type Update struct {
	Phase    Phase
	Progress int
	Message  string
}

// ReportFunc receives progress updates. Implementations must not block for
// long; they run on the job's goroutine.
type ReportFunc func(Update)

// Tracker turns phase reports into monotonic overall updates: it never
// forwards a percentage lower than the highest one already forwarded.
type Tracker struct {
	mu   sync.Mutex
	sink ReportFunc
	high int
	sent bool
}

func NewTracker(sink ReportFunc) *Tracker {
	return &Tracker{sink: sink}
}

// Report translates (phase, local) and forwards it. It returns the overall
// value forwarded.
func (t *Tracker) Report(phase Phase, local int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pct := Overall(phase, local)
	if t.sent && pct < t.high {
		pct = t.high
	}
	t.high = pct
	t.sent = true
	if t.sink != nil {
		t.sink(Update{Phase: phase, Progress: pct, Message: Message(phase, local)})
	}
	return pct
}

// Current returns the highest overall value forwarded so far.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.high
}
