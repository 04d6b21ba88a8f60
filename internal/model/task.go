package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// TaskKind is the type of work a task performs.
type TaskKind string

const (
	KindScan          TaskKind = "scan"
	KindCrawl         TaskKind = "crawl"
	KindSelectiveScan TaskKind = "selective_scan"
)

// IDPrefix is the prefix used in generated task identifiers.
func (k TaskKind) IDPrefix() string {
	switch k {
	case KindCrawl:
		return "crawl"
	case KindSelectiveScan:
		return "select"
	default:
		return "scan"
	}
}

// TaskStatus is the lifecycle state of a task. Transitions only move forward:
// pending -> running -> completed|failed.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along the lifecycle; unknown statuses rank lowest.
func (s TaskStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// ScanMode selects how wide a full scan reaches.
type ScanMode string

const (
	// ModeFullSite spiders recursively before the active scan.
	ModeFullSite ScanMode = "full_site"
	// ModeQuick only looks at the target page and its direct children.
	ModeQuick ScanMode = "quick"
)

// ParseScanMode maps user input onto a ScanMode; anything unknown is a full scan.
func ParseScanMode(s string) ScanMode {
	switch ScanMode(s) {
	case ModeQuick:
		return ModeQuick
	default:
		return ModeFullSite
	}
}

// Store field names. Every task is persisted as a flat record of these
// fields so individual fields can be updated without rewriting the record.
const (
	FieldID           = "id"
	FieldKind         = "kind"
	FieldTarget       = "target"
	FieldPages        = "pages"
	FieldSourceTaskID = "source_task_id"
	FieldMode         = "mode"
	FieldStatus       = "status"
	FieldProgress     = "progress"
	FieldMessage      = "message"
	FieldWorkerID     = "worker_id"
	FieldInstanceID   = "instance_id"
	FieldResult       = "result"
	FieldError        = "error"
	FieldCreatedAt    = "created_at"
	FieldStartedAt    = "started_at"
	FieldCompletedAt  = "completed_at"
)

// Task is the unit of coordination.
type Task struct {
	ID           string     `json:"id"`
	Kind         TaskKind   `json:"kind"`
	Target       string     `json:"target"`
	Pages        []string   `json:"pages,omitempty"`
	SourceTaskID string     `json:"source_task_id,omitempty"`
	Mode         ScanMode   `json:"mode,omitempty"`
	Status       TaskStatus `json:"status"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"`
	InstanceID   string     `json:"instance_id,omitempty"`
	Result       *Results   `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	CompletedAt  time.Time  `json:"completed_at,omitzero"`
}

// Record flattens the task into store fields. Empty optional fields are
// omitted so a freshly created record carries no result or error.
func (t *Task) Record() map[string]string {
	rec := map[string]string{
		FieldID:        t.ID,
		FieldKind:      string(t.Kind),
		FieldTarget:    t.Target,
		FieldStatus:    string(t.Status),
		FieldProgress:  strconv.Itoa(t.Progress),
		FieldCreatedAt: FormatTime(t.CreatedAt),
	}
	if len(t.Pages) > 0 {
		b, _ := json.Marshal(t.Pages)
		rec[FieldPages] = string(b)
	}
	if t.SourceTaskID != "" {
		rec[FieldSourceTaskID] = t.SourceTaskID
	}
	if t.Mode != "" {
		rec[FieldMode] = string(t.Mode)
	}
	if t.Message != "" {
		rec[FieldMessage] = t.Message
	}
	if t.WorkerID != "" {
		rec[FieldWorkerID] = t.WorkerID
	}
	if t.InstanceID != "" {
		rec[FieldInstanceID] = t.InstanceID
	}
	if t.Result != nil {
		b, _ := json.Marshal(t.Result)
		rec[FieldResult] = string(b)
	}
	if t.Error != "" {
		rec[FieldError] = t.Error
	}
	if !t.StartedAt.IsZero() {
		rec[FieldStartedAt] = FormatTime(t.StartedAt)
	}
	if !t.CompletedAt.IsZero() {
		rec[FieldCompletedAt] = FormatTime(t.CompletedAt)
	}
	return rec
}

// TaskFromRecord rebuilds a Task from store fields. It is lenient: a record
// caught halfway through an update still decodes, with unparsable fields
// left at their zero values.
func TaskFromRecord(rec map[string]string) *Task {
	t := &Task{
		ID:           rec[FieldID],
		Kind:         TaskKind(rec[FieldKind]),
		Target:       rec[FieldTarget],
		SourceTaskID: rec[FieldSourceTaskID],
		Mode:         ScanMode(rec[FieldMode]),
		Status:       TaskStatus(rec[FieldStatus]),
		Message:      rec[FieldMessage],
		WorkerID:     rec[FieldWorkerID],
		InstanceID:   rec[FieldInstanceID],
		Error:        rec[FieldError],
		CreatedAt:    ParseTime(rec[FieldCreatedAt]),
		StartedAt:    ParseTime(rec[FieldStartedAt]),
		CompletedAt:  ParseTime(rec[FieldCompletedAt]),
	}
	if p, err := strconv.Atoi(rec[FieldProgress]); err == nil {
		t.Progress = p
	}
	if raw := rec[FieldPages]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &t.Pages)
	}
	if raw := rec[FieldResult]; raw != "" {
		var res Results
		if err := json.Unmarshal([]byte(raw), &res); err == nil {
			t.Result = &res
		}
	}
	return t
}

// View is the status projection of a task exposed to callers.
func (t *Task) View() *TaskView {
	return &TaskView{
		TaskID:      t.ID,
		Kind:        t.Kind,
		URL:         t.Target,
		Status:      t.Status,
		Progress:    t.Progress,
		Message:     t.Message,
		WorkerID:    t.WorkerID,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// TaskView is what status queries return.
type TaskView struct {
	TaskID      string     `json:"task_id"`
	Kind        TaskKind   `json:"kind"`
	URL         string     `json:"url"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
}

// FormatTime renders t for storage; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
