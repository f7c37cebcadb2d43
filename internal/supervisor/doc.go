// Package supervisor keeps a fixed-size pool of worker processes alive.
//
// # Overview
//
// A Supervisor owns one slot per worker. Run spawns a process into every
// slot, then waits. Each process has a watcher goroutine; when the process
// terminates for any reason the watcher removes its handle from the live
// table and queues a Termination. The Run loop drains that queue in order
// and spawns a replacement into the same slot.
//
//	Run ──spawn──▶ slot 0: worker[pid 101] ──exit──┐
//	     ──spawn──▶ slot 1: worker[pid 102]        │
//	                                               ▼
//	      ◀────────── Termination{slot 0} ──── queue
//	     ──spawn──▶ slot 0: worker[pid 103]
//
// Respawn is unconditional: no backoff, no crash-loop limit. A replacement
// starts with an empty slice list; nothing the old process held is carried
// over. Only a failure to start the replacement process is retried, after
// the spawn retry delay.
//
// # Handles
//
// Handles returns a snapshot of the live table ordered by slot. A slot
// whose worker has exited and not yet been replaced is absent from it, so
// pool-wide operations that run in that window skip it.
//
// # Processes
//
// ExecSpawner re-executes the current binary as a worker. The worker's end
// of a unix socketpair is passed as fd 3 and becomes its coordination
// channel; the shared listening socket is passed as fd 4 so that every
// worker accepts on the same port. InheritedConn and InheritedListener
// recover both on the worker side. Workers get SIGTERM if the supervisor
// dies.
package supervisor
