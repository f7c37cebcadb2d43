// Package cluster implements the coordination channel between the slicepool
// supervisor and each of its worker processes.
//
// # Overview
//
// Every worker is connected to the supervisor by exactly one channel. The
// channel carries independent request/response pairs addressed by a message
// Kind, in either direction:
//
//	          ┌──────────────┐
//	          │  Supervisor  │
//	          └──────┬───────┘
//	     Endpoint    │    Endpoint    (one per worker)
//	      ┌──────────┼──────────┐
//	      │          │          │
//	┌─────▼────┐ ┌───▼──────┐ ┌─▼────────┐
//	│ Worker 0 │ │ Worker 1 │ │ Worker 2 │
//	└──────────┘ └──────────┘ └──────────┘
//
// A worker sends KindRequestLoad or KindUpdateResponsibleSlices to the
// supervisor to have it orchestrate the whole pool; the supervisor sends the
// same kinds to each worker to act on that worker's own state.
//
// # Wire format
//
// Messages are newline-delimited JSON envelopes:
//
//	{"id":7,"kind":"REQUEST_LOAD"}
//	{"id":7,"kind":"REQUEST_LOAD","reply":true,"payload":{"[0,10)":5}}
//	{"id":8,"kind":"UPDATE_RESPONSIBLE_SLICES","reply":true,"error":"..."}
//
// IDs are allocated by the requesting side, so both directions can reuse the
// same number space without ambiguity: a message is either a request or a
// reply.
//
// # Failure semantics
//
// There is no retry and no built-in timeout. When the peer goes away (its
// process terminated and the socket closed), every outstanding request and
// every later request fails with ErrPeerUnreachable. Callers bound a call
// with the context they pass to Endpoint.Request.
package cluster
