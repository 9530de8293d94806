package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files (events, results) plus a baseline snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord is one task lifecycle event.
type EventRecord struct {
	At       time.Time `json:"at"`
	Node     int       `json:"node"`
	Kind     string    `json:"kind"`
	TaskID   uint64    `json:"task_id"`
	Name     string    `json:"name,omitempty"`
	Priority uint32    `json:"priority,omitempty"`
	Previous uint32    `json:"previous,omitempty"`
}

// BenchmarkResult is the outcome of one timed directive loop.
type BenchmarkResult struct {
	At         time.Time `json:"at"`
	Name       string    `json:"name"`
	Iterations int       `json:"iterations"`
	TotalNanos uint64    `json:"total_ns"`
	AvgNanos   uint64    `json:"avg_ns"`
	Overhead   uint64    `json:"overhead_ns"`
}
