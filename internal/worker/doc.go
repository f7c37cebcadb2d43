// Package worker implements the per-process state of a slicepool worker.
//
// # Overview
//
// Each worker process owns a Runtime. The runtime tracks which key ranges
// (slices) the worker is responsible for and how many requests each of them
// has served since the last reassignment:
//
//	┌──────────────────────────────────────┐
//	│               Runtime                │
//	├──────────────────────────────────────┤
//	│  slices: [0,10) [10,20) [30,40)      │  sorted by start
//	│  load:   "[0,10)":5 "[10,20)":3 ...  │  same key set as slices
//	└──────────────────────────────────────┘
//
// The application side of a worker calls Record for each request key. The
// supervisor reaches the runtime over the coordination channel through the
// handlers installed by Register:
//
//   - REQUEST_LOAD returns ReportLoad
//   - UPDATE_RESPONSIBLE_SLICES calls ReplaceSlices and acknowledges
//   - PING acknowledges, used by liveness probing
//
// # Reassignment
//
// ReplaceSlices never patches the existing state. It builds a new sorted
// list and a zeroed table and swaps both under the write lock, so a
// concurrent ReportLoad sees all-old or all-new state. Applying the same
// input twice resets the counts twice; nothing accumulates.
//
// State lives only in memory. A respawned worker starts with no slices.
package worker
