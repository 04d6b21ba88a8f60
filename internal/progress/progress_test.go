package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raysh454/scanqueue/internal/progress"
)

func TestOverall(t *testing.T) {
	cases := []struct {
		phase progress.Phase
		local int
		want  int
	}{
		{progress.PhaseTargetSetup, 0, 0},
		{progress.PhaseTargetSetup, 100, 10},
		{progress.PhaseDiscoveryStartup, 0, 10},
		{progress.PhaseDiscovery, 0, 30},
		{progress.PhaseDiscovery, 50, 45},
		{progress.PhaseDiscovery, 33, 39},
		{progress.PhaseDiscovery, 100, 60},
		{progress.PhaseActiveStartup, 0, 60},
		{progress.PhaseActiveScan, 0, 70},
		{progress.PhaseActiveScan, 40, 80},
		{progress.PhaseActiveScan, 100, 95},
		{progress.PhaseResults, 0, 95},
		{progress.PhaseDone, 0, 100},
		// clamped
		{progress.PhaseDiscovery, 250, 60},
		{progress.PhaseActiveScan, -5, 70},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, progress.Overall(tc.phase, tc.local), "%s %d", tc.phase, tc.local)
	}
}

func TestOverallMonotonicAcrossPhases(t *testing.T) {
	phases := []progress.Phase{
		progress.PhaseTargetSetup, progress.PhaseDiscoveryStartup, progress.PhaseDiscovery,
		progress.PhaseActiveStartup, progress.PhaseActiveScan, progress.PhaseResults, progress.PhaseDone,
	}
	last := 0
	for _, ph := range phases {
		for local := 0; local <= 100; local += 10 {
			got := progress.Overall(ph, local)
			assert.GreaterOrEqual(t, got, last, "%s %d", ph, local)
			last = got
		}
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Setting up target...", progress.Message(progress.PhaseTargetSetup, 0))
	assert.Equal(t, "Spider scan: 45%", progress.Message(progress.PhaseDiscovery, 45))
	assert.Equal(t, "Active scan: 30%", progress.Message(progress.PhaseActiveScan, 30))
	assert.Equal(t, "Processing results...", progress.Message(progress.PhaseResults, 0))
	assert.Equal(t, "Scan completed", progress.Message(progress.PhaseDone, 100))
}

func TestTrackerNeverGoesBackwards(t *testing.T) {
	var seen []int
	tr := progress.NewTracker(func(u progress.Update) { seen = append(seen, u.Progress) })

	tr.Report(progress.PhaseDiscovery, 80)  // 54
	tr.Report(progress.PhaseDiscovery, 40)  // would be 42
	tr.Report(progress.PhaseActiveScan, 20) // 75
	tr.Report(progress.PhaseDiscovery, 100) // would be 60

	assert.Equal(t, []int{54, 54, 75, 75}, seen)
	assert.Equal(t, 75, tr.Current())
}

func TestTrackerForwardsMessage(t *testing.T) {
	var got progress.Update
	tr := progress.NewTracker(func(u progress.Update) { got = u })
	tr.Report(progress.PhaseActiveScan, 60)
	assert.Equal(t, progress.PhaseActiveScan, got.Phase)
	assert.Equal(t, 85, got.Progress)
	assert.Equal(t, "Active scan: 60%", got.Message)
}
