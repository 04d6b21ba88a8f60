package scanner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/scanner"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Cross Site Scripting (Reflected)", model.VulnXSS},
		{"Cross-Site Scripting (Persistent)", model.VulnXSS},
		{"DOM XSS", model.VulnXSS},
		{"XSS via header injection", model.VulnXSS}, // first rule wins
		{"SQL Injection - MySQL", model.VulnSQLInjection},
		{"SQL Query Disclosure", model.VulnOther},
		{"Absence of Anti-CSRF Tokens", model.VulnCSRF},
		{"Cross-Site Request Forgery", model.VulnCSRF},
		{"Missing Anti-clickjacking Header", model.VulnInsecureHeaders},
		{"Strict-Transport-Security Header Not Set", model.VulnInsecureHeaders},
		{"Weak SSL Cipher", model.VulnSSLTLS},
		{"TLS 1.0 Enabled", model.VulnSSLTLS},
		{"Weak Authentication Method", model.VulnAuthentication},
		{"Session ID in URL Rewrite", model.VulnOther},
		{"Cookie No HttpOnly Flag", model.VulnOther},
		{"", model.VulnOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, scanner.Classify(tc.name), tc.name)
	}
}

func TestMapSeverityAndConfidence(t *testing.T) {
	assert.Equal(t, "high", scanner.MapSeverity("High"))
	assert.Equal(t, "medium", scanner.MapSeverity("Medium"))
	assert.Equal(t, "low", scanner.MapSeverity("Low"))
	assert.Equal(t, "informational", scanner.MapSeverity("Informational"))
	assert.Equal(t, "low", scanner.MapSeverity(""))
	assert.Equal(t, "low", scanner.MapSeverity("Critical"))

	assert.Equal(t, "high", scanner.MapConfidence("High"))
	assert.Equal(t, "high", scanner.MapConfidence("Confirmed"))
	assert.Equal(t, "low", scanner.MapConfidence("Low"))
	assert.Equal(t, "medium", scanner.MapConfidence(""))
}

func TestNormalize(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	vulns := scanner.Normalize([]engine.Alert{
		{Alert: "SQL Injection", Risk: "High", URL: "http://a/login", Param: "user", CWEID: "89"},
		{Name: "Server Leaks Version", CWEID: "-1"},
		{},
	}, now)

	assert.Len(t, vulns, 3)
	assert.Equal(t, "vuln_1700000000123_0", vulns[0].ID)
	assert.Equal(t, "vuln_1700000000123_2", vulns[2].ID)
	assert.Equal(t, model.VulnSQLInjection, vulns[0].Type)
	assert.Equal(t, "user", vulns[0].Parameter)
	assert.Equal(t, "89", vulns[0].CWEID)
	assert.Equal(t, "Server Leaks Version", vulns[1].Title)
	assert.Equal(t, "low", vulns[1].Severity)
	assert.Equal(t, "medium", vulns[1].Confidence)
	assert.Empty(t, vulns[1].CWEID)
	assert.Equal(t, "Unknown Vulnerability", vulns[2].Title)
}

func TestDedupAlerts(t *testing.T) {
	in := []engine.Alert{
		{Alert: "A", URL: "u1"},
		{Alert: "A", URL: "u2"},
		{Name: "A", URL: "u1"},
		{Alert: "B", URL: "u1"},
	}
	out := scanner.DedupAlerts(in)
	assert.Equal(t, []engine.Alert{in[0], in[1], in[3]}, out)
}

func TestDescribeFailure(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&engine.APIError{Status: 400, Code: "url_not_found"}, "Target URL is not accessible or does not exist"},
		{fmt.Errorf("%w: x: %w", scanner.ErrFatal, &engine.APIError{Code: "does_not_exist"}), "Target URL is not accessible or does not exist"},
		{fmt.Errorf("connect: %w", engine.ErrUnreachable), "Unable to connect to the scan engine"},
		{context.DeadlineExceeded, "Request timed out - the target may be slow or unreachable"},
		{engine.ErrInvalidHandle, "Scan engine returned an invalid scan id"},
		{errors.New("boom"), "Scan failed: boom"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, scanner.DescribeFailure(tc.err))
	}
	assert.Empty(t, scanner.DescribeFailure(nil))
}

func TestFailureResults(t *testing.T) {
	started := time.Now().Add(-3 * time.Second)
	task := &model.Task{
		ID:          "scan_1_abcd1234",
		Kind:        model.KindScan,
		Target:      "http://down.example",
		Status:      model.StatusFailed,
		Error:       "Unable to connect to the scan engine",
		StartedAt:   started,
		CompletedAt: started.Add(3 * time.Second),
	}
	res := scanner.FailureResults(task)

	assert.True(t, res.Degraded)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, &model.Summary{TotalIssues: 1, Info: 1}, res.Summary)
	assert.Len(t, res.Vulnerabilities, 1)
	assert.Equal(t, model.VulnScanError, res.Vulnerabilities[0].Type)
	assert.Equal(t, task.Error, res.Vulnerabilities[0].Description)
	assert.Equal(t, 3*time.Second, res.Duration)
}
