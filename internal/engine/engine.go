// Package engine talks to the external scanning engine. Every call names its
// target or scan handle explicitly so concurrent jobs never depend on
// engine-side "current target" state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnreachable wraps transport failures talking to the engine.
	ErrUnreachable = errors.New("scan engine unreachable")
	// ErrInvalidHandle is returned when the engine hands back a scan id that
	// is not a positive integer.
	ErrInvalidHandle = errors.New("invalid scan handle")
)

// APIError is a non-2xx answer from the engine.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine api error: status %d code %s", e.Status, e.Code)
	}
	return fmt.Sprintf("engine api error: status %d code %s: %s", e.Status, e.Code, e.Message)
}

// Handle identifies a spider or active scan on the engine.
type Handle string

// ParseHandle validates a handle returned by a start call.
func ParseHandle(raw string) (Handle, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return Handle(raw), nil
}

// Alert is a raw engine finding before normalization.
type Alert struct {
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Evidence    string `json:"evidence"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	CWEID       string `json:"cweid"`
	PluginID    string `json:"pluginId"`
}

// Title is the alert's display name, whichever field carries it.
func (a Alert) Title() string {
	if a.Alert != "" {
		return a.Alert
	}
	return a.Name
}

// Engine is the surface of the scanning engine the job driver needs.
type Engine interface {
	// Connect checks the engine answers and returns its version.
	Connect(ctx context.Context) (string, error)
	// AccessURL makes the engine request url so it enters the site tree.
	AccessURL(ctx context.Context, url string) error

	StartSpider(ctx context.Context, url string, maxChildren int, recurse bool) (Handle, error)
	SpiderStatus(ctx context.Context, h Handle) (int, error)
	SpiderResults(ctx context.Context, h Handle) ([]string, error)
	StopSpider(ctx context.Context, h Handle) error

	StartActiveScan(ctx context.Context, url string, recurse, inScopeOnly bool) (Handle, error)
	ActiveScanStatus(ctx context.Context, h Handle) (int, error)
	StopActiveScan(ctx context.Context, h Handle) error

	// Alerts lists findings whose URL starts with baseURL.
	Alerts(ctx context.Context, baseURL string) ([]Alert, error)
}
