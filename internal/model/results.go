package model

import "time"

// Vulnerability types produced by alert normalization.
const (
	VulnXSS             = "xss"
	VulnSQLInjection    = "sql_injection"
	VulnCSRF            = "csrf"
	VulnInsecureHeaders = "insecure_headers"
	VulnSSLTLS          = "ssl_tls"
	VulnAuthentication  = "authentication"
	VulnOther           = "other"
	VulnScanError       = "scan_error"
)

// Severities, lowercase versions of the engine's risk vocabulary.
const (
	SeverityHigh          = "high"
	SeverityMedium        = "medium"
	SeverityLow           = "low"
	SeverityInformational = "informational"
)

// Vulnerability is a normalized engine finding.
type Vulnerability struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Parameter   string `json:"parameter,omitempty"`
	Evidence    string `json:"evidence,omitempty"`
	Solution    string `json:"solution,omitempty"`
	CWEID       string `json:"cwe_id,omitempty"`
	Confidence  string `json:"confidence"`
}

// Summary counts findings per severity.
type Summary struct {
	TotalIssues int `json:"total_issues"`
	HighRisk    int `json:"high_risk"`
	MediumRisk  int `json:"medium_risk"`
	LowRisk     int `json:"low_risk"`
	Info        int `json:"info"`
}

// Summarize counts vulns by severity. Anything that is not high, medium or
// low counts as informational.
func Summarize(vulns []Vulnerability) *Summary {
	s := &Summary{TotalIssues: len(vulns)}
	for _, v := range vulns {
		switch v.Severity {
		case SeverityHigh:
			s.HighRisk++
		case SeverityMedium:
			s.MediumRisk++
		case SeverityLow:
			s.LowRisk++
		default:
			s.Info++
		}
	}
	return s
}

// Page is a page discovered by a crawl.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StatusCode int    `json:"status_code"`
}

// Results is the payload of a finished task. Scans carry Vulnerabilities and
// Summary, crawls carry Pages.
type Results struct {
	TaskID          string          `json:"task_id"`
	Kind            TaskKind        `json:"kind"`
	URL             string          `json:"url"`
	Status          TaskStatus      `json:"status"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
	Pages           []Page          `json:"pages,omitempty"`
	Summary         *Summary        `json:"summary,omitempty"`
	Error           string          `json:"error,omitempty"`
	// Degraded marks a synthesized result standing in for a scan that could
	// not complete.
	Degraded bool `json:"degraded,omitempty"`
	// PartialDiscovery and PartialActiveScan are set when a phase hit its
	// timeout and the job continued with what it had.
	PartialDiscovery  bool          `json:"partial_discovery,omitempty"`
	PartialActiveScan bool          `json:"partial_active_scan,omitempty"`
	Duration          time.Duration `json:"duration_ns"`
	Timestamp         time.Time     `json:"timestamp"`
}

// PageURLs lists the URLs of the discovered pages.
func (r *Results) PageURLs() []string {
	out := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		out = append(out, p.URL)
	}
	return out
}
