package scanner

import (
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/scanqueue/internal/engine"
	"github.com/raysh454/scanqueue/internal/model"
)

// Classify maps an alert name onto the vulnerability taxonomy. Rules are
// case-insensitive substring checks applied in order; the first match wins.
func Classify(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "xss"),
		strings.Contains(n, "cross-site scripting"),
		strings.Contains(n, "cross site scripting"):
		return model.VulnXSS
	case strings.Contains(n, "sql") && strings.Contains(n, "injection"):
		return model.VulnSQLInjection
	case strings.Contains(n, "csrf"), strings.Contains(n, "cross-site request forgery"):
		return model.VulnCSRF
	case strings.Contains(n, "header"):
		return model.VulnInsecureHeaders
	case strings.Contains(n, "ssl"), strings.Contains(n, "tls"):
		return model.VulnSSLTLS
	case strings.Contains(n, "authentication"), strings.Contains(n, "auth"):
		return model.VulnAuthentication
	default:
		return model.VulnOther
	}
}

// MapSeverity lowercases the engine's risk level; anything unknown is low.
func MapSeverity(risk string) string {
	switch strings.ToLower(strings.TrimSpace(risk)) {
	case "high":
		return model.SeverityHigh
	case "medium":
		return model.SeverityMedium
	case "informational", "info":
		return model.SeverityInformational
	default:
		return model.SeverityLow
	}
}

// MapConfidence lowercases the engine's confidence; anything unknown is medium.
func MapConfidence(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "high", "confirmed":
		return "high"
	case "low", "false positive":
		return "low"
	default:
		return "medium"
	}
}

// Normalize converts raw alerts into vulnerabilities. Ids are
// vuln_<unix millis>_<index>.
func Normalize(alerts []engine.Alert, now time.Time) []model.Vulnerability {
	vulns := make([]model.Vulnerability, 0, len(alerts))
	millis := now.UnixMilli()
	for i, a := range alerts {
		title := a.Title()
		if title == "" {
			title = "Unknown Vulnerability"
		}
		cwe := strings.TrimSpace(a.CWEID)
		if cwe == "-1" || cwe == "0" {
			cwe = ""
		}
		vulns = append(vulns, model.Vulnerability{
			ID:          fmt.Sprintf("vuln_%d_%d", millis, i),
			Type:        Classify(title),
			Severity:    MapSeverity(a.Risk),
			Title:       title,
			Description: a.Description,
			URL:         a.URL,
			Parameter:   a.Param,
			Evidence:    a.Evidence,
			Solution:    a.Solution,
			CWEID:       cwe,
			Confidence:  MapConfidence(a.Confidence),
		})
	}
	return vulns
}

// DedupAlerts keeps the first alert for every (url, name) pair.
func DedupAlerts(alerts []engine.Alert) []engine.Alert {
	type key struct{ url, name string }
	seen := make(map[key]struct{}, len(alerts))
	out := make([]engine.Alert, 0, len(alerts))
	for _, a := range alerts {
		k := key{a.URL, a.Title()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}
