package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/raysh454/scanqueue/internal/logging"
)

// Config configures the ZAP API client.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// RateLimit caps requests per second across every job sharing the
	// client. Zero disables limiting.
	RateLimit float64
	Burst     int
	// AlertPageSize is the count used when paging through alerts.
	AlertPageSize int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		RateLimit:      20,
		Burst:          10,
		AlertPageSize:  500,
	}
}

// ZAPClient drives OWASP ZAP through its JSON API.
type ZAPClient struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

var _ Engine = (*ZAPClient)(nil)

func NewZAPClient(cfg Config, logger logging.Logger, httpClient *http.Client) (*ZAPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid engine base url %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.AlertPageSize <= 0 {
		cfg.AlertPageSize = 500
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	componentLogger := logging.OrNop(logger).With(logging.F("component", "zap"), logging.F("base_url", base.String()))
	return &ZAPClient{
		cfg:     cfg,
		base:    base,
		client:  httpClient,
		limiter: limiter,
		logger:  componentLogger,
	}, nil
}

// call performs GET /JSON/<component>/<kind>/<name>/ and decodes the body
// into out.
func (z *ZAPClient) call(ctx context.Context, component, kind, name string, params url.Values, out any) error {
	if err := z.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrUnreachable, err)
	}
	if z.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, z.cfg.RequestTimeout)
		defer cancel()
	}

	if params == nil {
		params = url.Values{}
	}
	if z.cfg.APIKey != "" {
		params.Set("apikey", z.cfg.APIKey)
	}
	u := *z.base
	u.Path = strings.TrimRight(u.Path, "/") + "/JSON/" + component + "/" + kind + "/" + name + "/"
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	z.logger.Debug("engine request", logging.F("endpoint", component+"/"+kind+"/"+name))
	resp, err := z.client.Do(req)
	if err != nil {
		z.logger.Warn("engine request failed",
			logging.F("endpoint", component+"/"+kind+"/"+name),
			logging.Err(err))
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s/%s response: %w", component, name, err)
	}
	return nil
}

func (z *ZAPClient) Connect(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := z.call(ctx, "core", "view", "version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (z *ZAPClient) AccessURL(ctx context.Context, target string) error {
	params := url.Values{"url": {target}, "followRedirects": {"true"}}
	return z.call(ctx, "core", "action", "accessUrl", params, nil)
}

func (z *ZAPClient) StartSpider(ctx context.Context, target string, maxChildren int, recurse bool) (Handle, error) {
	params := url.Values{
		"url":     {target},
		"recurse": {strconv.FormatBool(recurse)},
	}
	if maxChildren > 0 {
		params.Set("maxChildren", strconv.Itoa(maxChildren))
	}
	var out struct {
		Scan string `json:"scan"`
	}
	if err := z.call(ctx, "spider", "action", "scan", params, &out); err != nil {
		return "", err
	}
	return ParseHandle(out.Scan)
}

func (z *ZAPClient) SpiderStatus(ctx context.Context, h Handle) (int, error) {
	return z.status(ctx, "spider", h)
}

func (z *ZAPClient) SpiderResults(ctx context.Context, h Handle) ([]string, error) {
	var out struct {
		Results []string `json:"results"`
	}
	if err := z.call(ctx, "spider", "view", "results", url.Values{"scanId": {string(h)}}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (z *ZAPClient) StopSpider(ctx context.Context, h Handle) error {
	return z.call(ctx, "spider", "action", "stop", url.Values{"scanId": {string(h)}}, nil)
}

func (z *ZAPClient) StartActiveScan(ctx context.Context, target string, recurse, inScopeOnly bool) (Handle, error) {
	params := url.Values{
		"url":         {target},
		"recurse":     {strconv.FormatBool(recurse)},
		"inScopeOnly": {strconv.FormatBool(inScopeOnly)},
	}
	var out struct {
		Scan string `json:"scan"`
	}
	if err := z.call(ctx, "ascan", "action", "scan", params, &out); err != nil {
		return "", err
	}
	return ParseHandle(out.Scan)
}

func (z *ZAPClient) ActiveScanStatus(ctx context.Context, h Handle) (int, error) {
	return z.status(ctx, "ascan", h)
}

func (z *ZAPClient) StopActiveScan(ctx context.Context, h Handle) error {
	return z.call(ctx, "ascan", "action", "stop", url.Values{"scanId": {string(h)}}, nil)
}

// Alerts pages through core/view/alerts until a short page comes back.
func (z *ZAPClient) Alerts(ctx context.Context, baseURL string) ([]Alert, error) {
	alerts := []Alert{}
	for start := 0; ; start += z.cfg.AlertPageSize {
		params := url.Values{
			"baseurl": {baseURL},
			"start":   {strconv.Itoa(start)},
			"count":   {strconv.Itoa(z.cfg.AlertPageSize)},
		}
		var out struct {
			Alerts []Alert `json:"alerts"`
		}
		if err := z.call(ctx, "core", "view", "alerts", params, &out); err != nil {
			return nil, err
		}
		alerts = append(alerts, out.Alerts...)
		if len(out.Alerts) < z.cfg.AlertPageSize {
			return alerts, nil
		}
	}
}

func (z *ZAPClient) status(ctx context.Context, component string, h Handle) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := z.call(ctx, component, "view", "status", url.Values{"scanId": {string(h)}}, &out); err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(out.Status))
	if err != nil {
		return 0, fmt.Errorf("%s status %q is not a percentage", component, out.Status)
	}
	return pct, nil
}
