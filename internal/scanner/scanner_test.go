package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/progress"
	"github.com/raysh454/scanqueue/internal/scanner"
	"github.com/raysh454/scanqueue/internal/testutil"
)

const target = "http://shop.example"

func fastConfig() scanner.Config {
	cfg := scanner.DefaultConfig()
	cfg.SpiderPollInterval = time.Millisecond
	cfg.ActivePollInterval = time.Millisecond
	cfg.SpiderTimeout = 2 * time.Second
	cfg.ActiveTimeout = 2 * time.Second
	return cfg
}

func sampleAlerts() []engine.Alert {
	return []engine.Alert{
		{Alert: "Cross Site Scripting (Reflected)", Risk: "High", Confidence: "Medium", URL: target + "/search", CWEID: "79"},
		{Alert: "SQL Injection", Risk: "High", Confidence: "Low", URL: target + "/login", CWEID: "89"},
		{Alert: "Absence of Anti-CSRF Tokens", Risk: "Medium", URL: target + "/login", CWEID: "352"},
		{Alert: "Cookie No HttpOnly Flag", Risk: "Low", Confidence: "Confirmed", URL: target + "/profile", CWEID: "-1"},
		{Alert: "Timestamp Disclosure", Risk: "Informational", URL: target + "/about"},
	}
}

// recorder collects tracker output.
type recorder struct{ updates []progress.Update }

func (r *recorder) tracker() *progress.Tracker {
	return progress.NewTracker(func(u progress.Update) { r.updates = append(r.updates, u) })
}

func (r *recorder) percents() []int {
	out := make([]int, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Progress
	}
	return out
}

func TestScan_Completes(t *testing.T) {
	fake := &testutil.FakeEngine{
		SpiderSteps: []int{20, 60, 100},
		ScanSteps:   []int{50, 100},
		AlertList:   sampleAlerts(),
	}
	rec := &recorder{}
	r := scanner.NewRunner(fake, fastConfig(), testutil.NewDummyLogger())

	res, err := r.Scan(context.Background(), target, model.ModeFullSite, rec.tracker())
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, model.KindScan, res.Kind)
	assert.Equal(t, target, res.URL)
	require.Len(t, res.Vulnerabilities, 5)
	assert.Equal(t, &model.Summary{TotalIssues: 5, HighRisk: 2, MediumRisk: 1, LowRisk: 1, Info: 1}, res.Summary)
	assert.False(t, res.PartialDiscovery)
	assert.False(t, res.PartialActiveScan)

	pcts := rec.percents()
	require.NotEmpty(t, pcts)
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1])
	}
	assert.Equal(t, 100, pcts[len(pcts)-1])
	assert.Contains(t, pcts, 36) // spider at 20%
	assert.Contains(t, pcts, 82) // active scan at 50%

	require.Len(t, fake.SpiderCalls, 1)
	assert.Equal(t, 50, fake.SpiderCalls[0].MaxChildren)
	assert.True(t, fake.SpiderCalls[0].Recurse)
}

func TestScan_QuickModeSpidersShallow(t *testing.T) {
	fake := &testutil.FakeEngine{}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	_, err := r.Scan(context.Background(), target, model.ModeQuick, nil)
	require.NoError(t, err)
	require.Len(t, fake.SpiderCalls, 1)
	assert.Equal(t, 10, fake.SpiderCalls[0].MaxChildren)
	assert.False(t, fake.SpiderCalls[0].Recurse)
}

func TestScan_SpiderTimeoutContinues(t *testing.T) {
	fake := &testutil.FakeEngine{
		SpiderSteps: []int{10, 40}, // never reaches 100
		AlertList:   sampleAlerts(),
	}
	cfg := fastConfig()
	cfg.SpiderTimeout = 50 * time.Millisecond
	logger := testutil.NewDummyLogger()
	r := scanner.NewRunner(fake, cfg, logger)

	res, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.NoError(t, err)
	assert.True(t, res.PartialDiscovery)
	assert.Len(t, fake.StoppedSpider, 1)
	assert.Equal(t, []string{target}, fake.ScanTargets, "active scan still runs")
	assert.Len(t, res.Vulnerabilities, 5)
	assert.True(t, logger.HasMessage("spider timed out, continuing with partial results"))
}

func TestScan_ActiveScanTimeoutCollectsExistingAlerts(t *testing.T) {
	fake := &testutil.FakeEngine{
		ScanSteps: []int{5},
		AlertList: sampleAlerts()[:1],
	}
	cfg := fastConfig()
	cfg.ActiveTimeout = 50 * time.Millisecond
	r := scanner.NewRunner(fake, cfg, nil)

	res, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.NoError(t, err)
	assert.True(t, res.PartialActiveScan)
	assert.Len(t, fake.StoppedScan, 1)
	assert.Len(t, res.Vulnerabilities, 1)
}

func TestScan_ConnectFailureIsFatal(t *testing.T) {
	fake := &testutil.FakeEngine{FailConnects: 1}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	_, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanner.ErrFatal)
	assert.ErrorIs(t, err, engine.ErrUnreachable)
	assert.Equal(t, "Unable to connect to the scan engine", scanner.DescribeFailure(err))
	assert.Empty(t, fake.SpiderCalls)
}

func TestScan_AccessURLFailureIsFatal(t *testing.T) {
	fake := &testutil.FakeEngine{AccessErr: &engine.APIError{Status: 400, Code: "url_not_found"}}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	_, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.ErrorIs(t, err, scanner.ErrFatal)
	assert.Equal(t, "Target URL is not accessible or does not exist", scanner.DescribeFailure(err))
}

func TestScan_InvalidHandleIsFatal(t *testing.T) {
	fake := &testutil.FakeEngine{SpiderHandle: "0"}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	_, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.ErrorIs(t, err, scanner.ErrFatal)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)
	assert.Empty(t, fake.ScanTargets)
}

func TestScan_RepeatedPollErrorsAreFatal(t *testing.T) {
	fake := &testutil.FakeEngine{SpiderSteps: []int{10}, SpiderErrAfter: 1}
	cfg := fastConfig()
	cfg.MaxPollErrors = 3
	logger := testutil.NewDummyLogger()
	r := scanner.NewRunner(fake, cfg, logger)

	_, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.ErrorIs(t, err, scanner.ErrFatal)
	assert.ErrorIs(t, err, engine.ErrUnreachable)
	assert.GreaterOrEqual(t, logger.WarnCount(), 3)
}

func TestScan_RejectedStatusPollsDegradeToTimeout(t *testing.T) {
	fake := &testutil.FakeEngine{
		SpiderStatusErr: &engine.APIError{Status: 400, Code: "bad_format", Message: "status is not numeric"},
		SpiderURLs:      []string{target + "/login"},
	}
	cfg := fastConfig()
	cfg.MaxPollErrors = 2
	cfg.SpiderTimeout = 40 * time.Millisecond
	logger := testutil.NewDummyLogger()
	r := scanner.NewRunner(fake, cfg, logger)

	res, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.NoError(t, err)
	assert.True(t, res.PartialDiscovery)
	assert.Equal(t, []string{target}, fake.ScanTargets, "active scan still runs")
	assert.True(t, logger.HasMessage("status poll rejected, retrying"))
}

func TestScan_AlertFetchErrorDegradesToEmpty(t *testing.T) {
	fake := &testutil.FakeEngine{AlertsErr: &engine.APIError{Status: 500, Code: "internal_error"}}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	res, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Vulnerabilities)
	assert.Equal(t, 0, res.Summary.TotalIssues)
}

func TestScan_AlertFetchUnreachableIsFatal(t *testing.T) {
	fake := &testutil.FakeEngine{AlertsErr: engine.ErrUnreachable}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	_, err := r.Scan(context.Background(), target, model.ModeFullSite, nil)
	assert.ErrorIs(t, err, scanner.ErrFatal)
}

func TestScan_ContextCancelled(t *testing.T) {
	fake := &testutil.FakeEngine{SpiderSteps: []int{1}}
	cfg := fastConfig()
	cfg.SpiderTimeout = time.Minute
	r := scanner.NewRunner(fake, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Scan(ctx, target, model.ModeFullSite, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCrawl_FiltersPages(t *testing.T) {
	fake := &testutil.FakeEngine{
		SpiderURLs: []string{
			target + "/login",
			target + "/search?q=test",
			target + "/about#team",
			target + "/login",
			target + "/login/",
			target + "/about/",
			"https://cdn.external.test/lib.js",
			"http://shop.example:8080/other-port",
		},
	}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	res, err := r.Crawl(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, model.KindCrawl, res.Kind)
	assert.Nil(t, res.Summary)
	assert.Equal(t, []string{
		"http://shop.example/",
		"http://shop.example/login",
		"http://shop.example/search",
		"http://shop.example/about",
	}, res.PageURLs())
	for _, p := range res.Pages {
		assert.Equal(t, "Discovered Page", p.Title)
		assert.Equal(t, 200, p.StatusCode)
	}
	assert.Empty(t, fake.ScanTargets, "crawl never starts an active scan")
}

func TestCrawl_StalledSpiderKeepsPartialPages(t *testing.T) {
	fake := &testutil.FakeEngine{
		SpiderSteps: []int{30},
		SpiderURLs:  []string{target + "/login"},
	}
	cfg := fastConfig()
	cfg.SpiderTimeout = 40 * time.Millisecond
	r := scanner.NewRunner(fake, cfg, nil)

	res, err := r.Crawl(context.Background(), target, nil)
	require.NoError(t, err)
	assert.True(t, res.PartialDiscovery)
	assert.Equal(t, []string{"http://shop.example/", "http://shop.example/login"}, res.PageURLs())
}

func TestSelectiveScan_DedupsByURLAndName(t *testing.T) {
	alerts := append(sampleAlerts(), engine.Alert{Alert: "SQL Injection", Risk: "High", URL: target + "/login"})
	fake := &testutil.FakeEngine{AlertList: alerts}
	r := scanner.NewRunner(fake, fastConfig(), nil)

	pages := []string{target + "/", target + "/login"}
	res, err := r.SelectiveScan(context.Background(), target, pages, nil)
	require.NoError(t, err)

	assert.Equal(t, model.KindSelectiveScan, res.Kind)
	// the root page already returns every alert; /login repeats two of them
	assert.Len(t, res.Vulnerabilities, 5)
	assert.Equal(t, len(res.Vulnerabilities), res.Summary.TotalIssues)
	assert.Equal(t, []string{target, target + "/", target + "/login"}, fake.Accessed)
	assert.Equal(t, []string{target}, fake.ScanTargets)
	assert.Equal(t, pages, fake.AlertQueries)
	assert.Empty(t, fake.SpiderCalls)
}

func TestFilterPages_Cap(t *testing.T) {
	var urls []string
	for i := 0; i < 30; i++ {
		urls = append(urls, target+"/p"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	got := scanner.FilterPages(target, urls, 20)
	assert.Len(t, got, 20)
	assert.Equal(t, "http://shop.example/", got[0])
}
