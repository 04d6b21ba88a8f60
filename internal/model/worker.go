package model

import "time"

// SlotStatus is the state of one worker slot.
type SlotStatus string

const (
	SlotIdle  SlotStatus = "idle"
	SlotBusy  SlotStatus = "busy"
	SlotError SlotStatus = "error"
)

// WorkerSlot is a snapshot of one concurrent execution context.
type WorkerSlot struct {
	ID          string     `json:"id"`
	Status      SlotStatus `json:"status"`
	CurrentTask string     `json:"current_task,omitempty"`
	ScanCount   int        `json:"scan_count"`
	ErrorCount  int        `json:"error_count"`
	LastActive  time.Time  `json:"last_active,omitzero"`
}

// PoolStatus summarizes the worker pool.
type PoolStatus struct {
	Capacity       int          `json:"capacity"`
	Idle           int          `json:"idle"`
	Busy           int          `json:"busy"`
	Errored        int          `json:"errored"`
	PendingCount   int          `json:"pending_count"`
	CompletedCount int          `json:"completed_count"`
	FailedCount    int          `json:"failed_count"`
	Workers        []WorkerSlot `json:"workers"`
}
