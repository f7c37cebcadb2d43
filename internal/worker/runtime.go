package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/slice"
)

// Runtime holds one worker's slice ownership state: the Responsible Slice
// List and the Slice Load Table counting requests per owned slice.
//
// Invariants:
//   - the load table's key set is exactly the keys of the responsible list
//   - the responsible list is sorted ascending by Start
//   - ReplaceSlices swaps both as one unit, so ReportLoad observes either
//     the complete old state or the complete new state
//
// A fresh runtime owns no slices.
type Runtime struct {
	mu     sync.RWMutex
	slices []slice.Slice
	load   slice.LoadTable

	// generation increments on every ReplaceSlices.
	generation uint64
}

// Info is a point-in-time view of a runtime for display.
type Info struct {
	Slices     []slice.Slice   `json:"slices"`
	Load       slice.LoadTable `json:"load"`
	Generation uint64          `json:"generation"`
}

// NewRuntime creates a runtime with no responsible slices.
func NewRuntime() *Runtime {
	return &Runtime{
		slices: []slice.Slice{},
		load:   slice.LoadTable{},
	}
}

// ReportLoad returns a copy of the current load table.
func (r *Runtime) ReportLoad() slice.LoadTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load.Clone()
}

// ReplaceSlices makes next the responsible list, sorted by Start, and
// resets every count to zero. Prior counts are discarded even for slices
// present in both the old and the new list. Overlapping or inverted slices
// are accepted as given.
func (r *Runtime) ReplaceSlices(next []slice.Slice) {
	sorted := slice.Sorted(next)
	load := make(slice.LoadTable, len(sorted))
	for _, s := range sorted {
		load[s.Key()] = 0
	}

	r.mu.Lock()
	r.slices = sorted
	r.load = load
	r.generation++
	r.mu.Unlock()
}

// Record counts one request for key against the slice that owns it. It
// reports the owning slice, or false when no responsible slice contains key.
func (r *Runtime) Record(key int64) (slice.Slice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := slice.Find(r.slices, key)
	if !ok {
		return slice.Slice{}, false
	}
	r.load[s.Key()]++
	return s, true
}

// Slices returns a copy of the responsible list.
func (r *Runtime) Slices() []slice.Slice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]slice.Slice{}, r.slices...)
}

// Info returns slices, load and generation from a single consistent read.
func (r *Runtime) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Info{
		Slices:     append([]slice.Slice{}, r.slices...),
		Load:       r.load.Clone(),
		Generation: r.generation,
	}
}

// Register binds the supervisor-to-worker request kinds on ep to r. It must
// be called before ep.Serve.
func (r *Runtime) Register(ep *cluster.Endpoint) {
	ep.Handle(cluster.KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return r.ReportLoad(), nil
	})
	ep.Handle(cluster.KindUpdateResponsibleSlices, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req cluster.UpdateSlicesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode slices: %w", err)
		}
		r.ReplaceSlices(req.Slices)
		return cluster.Ack{OK: true}, nil
	})
	ep.Handle(cluster.KindPing, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return cluster.Ack{OK: true}, nil
	})
}
