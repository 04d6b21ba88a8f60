package server

import "github.com/raysh454/scanqueue/internal/model"

// ScanRequest starts a full or quick scan of URL.
type ScanRequest struct {
	URL  string         `json:"url" example:"http://localhost:9999"`
	Mode model.ScanMode `json:"mode,omitempty" example:"full_site"`
}

// CrawlRequest starts a discovery-only crawl of URL.
type CrawlRequest struct {
	URL string `json:"url" example:"http://localhost:9999"`
}

// SelectiveScanRequest lists the crawled pages to scan.
type SelectiveScanRequest struct {
	Pages []string `json:"pages" example:"[\"http://localhost:9999/login\"]"`
}

// TaskAcceptedResponse is returned when a task has been queued.
type TaskAcceptedResponse struct {
	TaskID string           `json:"task_id" example:"scan_1718000000000_1a2b3c4d"`
	Status model.TaskStatus `json:"status" example:"pending"`
}

// HealthResponse reports whether the engine and the task store respond.
type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	EngineVersion string `json:"engine_version,omitempty" example:"2.15.0"`
	EngineError   string `json:"engine_error,omitempty"`
	StoreError    string `json:"store_error,omitempty"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"task not found"`
}
