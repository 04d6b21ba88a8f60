package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/model"
)

// DescribeFailure turns a job error into text fit for an end user.
func DescribeFailure(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.Code + " " + apiErr.Message)
		if strings.Contains(code, "url_not_found") || strings.Contains(code, "does_not_exist") {
			return "Target URL is not accessible or does not exist"
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out - the target may be slow or unreachable"
	case errors.Is(err, context.Canceled):
		return "Scan was cancelled"
	case errors.Is(err, engine.ErrUnreachable):
		return "Unable to connect to the scan engine"
	case errors.Is(err, engine.ErrInvalidHandle):
		return "Scan engine returned an invalid scan id"
	}
	return fmt.Sprintf("Scan failed: %v", err)
}

// FailureResults builds the degraded result shown for a failed task: a
// single informational scan_error finding carrying the failure description.
func FailureResults(t *model.Task) *model.Results {
	desc := t.Error
	if desc == "" {
		desc = "Scan could not complete"
	}
	vulns := []model.Vulnerability{{
		ID:          fmt.Sprintf("vuln_%d_0", t.CompletedAt.UnixMilli()),
		Type:        model.VulnScanError,
		Severity:    model.SeverityInformational,
		Title:       "Scan Error",
		Description: desc,
		URL:         t.Target,
		Evidence:    "Scan could not complete",
		Solution:    "Check that the target URL is accessible and the scan engine is running",
		Confidence:  "low",
	}}
	var dur time.Duration
	if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
		dur = t.CompletedAt.Sub(t.StartedAt)
	}
	return &model.Results{
		TaskID:          t.ID,
		Kind:            t.Kind,
		URL:             t.Target,
		Status:          model.StatusFailed,
		Vulnerabilities: vulns,
		Summary:         model.Summarize(vulns),
		Error:           t.Error,
		Degraded:        true,
		Duration:        dur,
		Timestamp:       t.CompletedAt,
	}
}
