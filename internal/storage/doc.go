// Package storage persists what a node wants to keep across restarts:
//   - task lifecycle events (append-only)
//   - benchmark results (append-only)
//   - per-benchmark baselines, used to flag regressions between runs
package storage
