package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/scanqueue/internal/demoserver"
	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/testutil"
)

func newDemoClient(t *testing.T, demoCfg demoserver.Config, mutate func(*engine.Config)) *engine.ZAPClient {
	t.Helper()
	srv := httptest.NewServer(demoserver.NewDemoServer(demoCfg).Handler())
	t.Cleanup(srv.Close)

	cfg := engine.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := engine.NewZAPClient(cfg, testutil.NewDummyLogger(), srv.Client())
	require.NoError(t, err)
	return c
}

func TestParseHandle(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{"1", false},
		{" 42 ", false},
		{"", true},
		{"0", true},
		{"-3", true},
		{"abc", true},
		{"1.5", true},
	}
	for _, tc := range cases {
		h, err := engine.ParseHandle(tc.raw)
		if tc.wantErr {
			assert.ErrorIs(t, err, engine.ErrInvalidHandle, "raw %q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, engine.Handle(strings.TrimSpace(tc.raw)), h)
	}
}

func TestZAPClient_Connect(t *testing.T) {
	c := newDemoClient(t, demoserver.DefaultConfig(), nil)
	v, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.15.0", v)
}

func TestZAPClient_SpiderAndActiveScan(t *testing.T) {
	c := newDemoClient(t, demoserver.DefaultConfig(), nil)
	ctx := context.Background()
	target := "http://shop.example"

	require.NoError(t, c.AccessURL(ctx, target))

	h, err := c.StartSpider(ctx, target, 0, true)
	require.NoError(t, err)
	assert.Equal(t, engine.Handle("1"), h)

	var pct int
	for i := 0; i < 10 && pct < 100; i++ {
		pct, err = c.SpiderStatus(ctx, h)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, pct)

	urls, err := c.SpiderResults(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, target, urls[0])
	assert.Contains(t, urls, "http://shop.example/login")

	ah, err := c.StartActiveScan(ctx, target, true, false)
	require.NoError(t, err)
	assert.Equal(t, engine.Handle("2"), ah)
	pct, err = c.ActiveScanStatus(ctx, ah)
	require.NoError(t, err)
	assert.Equal(t, 20, pct)
	require.NoError(t, c.StopActiveScan(ctx, ah))

	alerts, err := c.Alerts(ctx, target)
	require.NoError(t, err)
	assert.NotEmpty(t, alerts)
	for _, a := range alerts {
		assert.True(t, strings.HasPrefix(a.URL, target), a.URL)
	}

	// alerts are scoped by base url
	login, err := c.Alerts(ctx, target+"/login")
	require.NoError(t, err)
	assert.Len(t, login, 2)
}

func TestZAPClient_AlertsPaging(t *testing.T) {
	c := newDemoClient(t, demoserver.DefaultConfig(), func(cfg *engine.Config) { cfg.AlertPageSize = 2 })
	ctx := context.Background()
	target := "http://paged.example"
	require.NoError(t, c.AccessURL(ctx, target))
	_, err := c.StartActiveScan(ctx, target, true, false)
	require.NoError(t, err)

	alerts, err := c.Alerts(ctx, target)
	require.NoError(t, err)
	assert.Len(t, alerts, 7)
}

func TestZAPClient_EmptyAlertsIsNotAnError(t *testing.T) {
	c := newDemoClient(t, demoserver.DefaultConfig(), nil)
	alerts, err := c.Alerts(context.Background(), "http://nothing.example")
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestZAPClient_APIError(t *testing.T) {
	c := newDemoClient(t, demoserver.DefaultConfig(), nil)
	_, err := c.StartSpider(context.Background(), "http://never-accessed.example", 0, true)

	var apiErr *engine.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "url_not_found", apiErr.Code)
}

func TestZAPClient_APIKey(t *testing.T) {
	demoCfg := demoserver.DefaultConfig()
	demoCfg.APIKey = "s3cret"

	good := newDemoClient(t, demoCfg, func(cfg *engine.Config) { cfg.APIKey = "s3cret" })
	_, err := good.Connect(context.Background())
	require.NoError(t, err)

	bad := newDemoClient(t, demoCfg, func(cfg *engine.Config) { cfg.APIKey = "wrong" })
	_, err = bad.Connect(context.Background())
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad_api_key", apiErr.Code)
}

func TestZAPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := engine.DefaultConfig()
	cfg.BaseURL = base
	cfg.RequestTimeout = time.Second
	c, err := engine.NewZAPClient(cfg, nil, nil)
	require.NoError(t, err)

	_, err = c.Connect(context.Background())
	assert.ErrorIs(t, err, engine.ErrUnreachable)
}

func TestZAPClient_InvalidHandleFromEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scan":"0"}`))
	}))
	defer srv.Close()

	cfg := engine.DefaultConfig()
	cfg.BaseURL = srv.URL
	c, err := engine.NewZAPClient(cfg, nil, srv.Client())
	require.NoError(t, err)

	_, err = c.StartSpider(context.Background(), "http://x.example", 0, true)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)
	_, err = c.StartActiveScan(context.Background(), "http://x.example", true, true)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)
}

func TestNewZAPClient_RejectsBadBaseURL(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.BaseURL = "not a url"
	_, err := engine.NewZAPClient(cfg, nil, nil)
	require.Error(t, err)
}
