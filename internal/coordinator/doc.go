// Package coordinator implements the pool-wide operations of slicepool: load
// aggregation and slice reassignment across every live worker, plus optional
// liveness probing.
//
// # Overview
//
// Any worker can ask for the pool-wide view. It does so by sending a
// request to the supervisor over its coordination channel; the supervisor
// answers by fanning the matching request out to every live worker,
// including the one that asked, and fanning the answers back in.
//
//	worker 2 ──REQUEST_LOAD──▶ supervisor
//	                              │
//	          ┌───────────────────┼───────────────────┐
//	          ▼                   ▼                   ▼
//	      worker 0            worker 1            worker 2
//	          │                   │                   │
//	          └────── load tables summed by key ──────┘
//	                              │
//	worker 2 ◀──── LoadTable ─────┘
//
// # Operations
//
// AggregateLoad sends REQUEST_LOAD to every peer concurrently and sums the
// returned tables by slice key. It waits for every call; if any call fails
// the whole operation fails with ErrAggregationFailed wrapping the first
// error, and no partial table is returned.
//
// Reassign sends UPDATE_RESPONSIBLE_SLICES with the same full set to every
// peer. Each worker replaces its own list with the whole set, so after a
// successful reassignment every worker is responsible for every slice in
// it. A failure yields ErrReassignmentFailed; peers that already applied
// the set keep it.
//
// The two operations are not serialized. An aggregation in flight can see
// some tables from before a concurrent reassignment and some from after.
//
// # Timeouts
//
// New(0) leaves worker calls unbounded: a worker that never answers stalls
// the operation until the caller's context ends. A positive call timeout
// bounds each individual worker call instead.
//
// # Health monitoring
//
// HealthMonitor pings every live worker at a fixed interval and reports a
// worker after three consecutive failed probes. The supervisor kills such a
// worker, and the normal respawn path replaces it.
package coordinator
