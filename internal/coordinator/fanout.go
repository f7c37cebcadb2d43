// Package coordinator provides the pool-wide operations the supervisor runs
// on behalf of a worker. See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/metrics"
	"github.com/dreamware/slicepool/internal/slice"
)

var (
	// ErrAggregationFailed wraps the first worker failure of a load query.
	ErrAggregationFailed = errors.New("load aggregation failed")
	// ErrReassignmentFailed wraps the first worker failure of a reassignment.
	ErrReassignmentFailed = errors.New("slice reassignment failed")
)

const (
	opAggregate = "aggregate"
	opReassign  = "reassign"
)

// Peer is one worker reachable over the coordination channel.
type Peer interface {
	Slot() int
	PID() int
	Request(ctx context.Context, kind cluster.Kind, payload, out any) error
}

// Peers converts a snapshot of concrete handles into peers.
func Peers[P Peer](handles []P) []Peer {
	out := make([]Peer, len(handles))
	for i, h := range handles {
		out[i] = h
	}
	return out
}

// Coordinator runs fan-out/fan-in operations across a set of workers.
//
// Operations are not serialized against each other: a reassignment that
// lands while an aggregation is in flight may leave the aggregate mixing
// pre- and post-reassignment tables.
type Coordinator struct {
	// callTimeout bounds each individual worker call; 0 means unbounded.
	callTimeout time.Duration
}

// New creates a coordinator. A zero callTimeout leaves worker calls
// unbounded, so one hung worker stalls the whole operation.
func New(callTimeout time.Duration) *Coordinator {
	return &Coordinator{callTimeout: callTimeout}
}

// AggregateLoad asks every peer for its load table concurrently and sums
// the tables by slice key. If any peer fails, no partial result is
// returned. An empty peer set yields an empty table.
func (c *Coordinator) AggregateLoad(ctx context.Context, peers []Peer) (slice.LoadTable, error) {
	start := time.Now()
	tables, err := fanOut(ctx, c, opAggregate, peers, func(ctx context.Context, p Peer) (slice.LoadTable, error) {
		var t slice.LoadTable
		err := p.Request(ctx, cluster.KindRequestLoad, nil, &t)
		return t, err
	})
	observe(opAggregate, start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}

	total := slice.LoadTable{}
	for _, t := range tables {
		total.Add(t)
	}
	return total, nil
}

// Reassign sends the same full slice set to every peer concurrently; each
// worker replaces its own list with the whole set. The set is not divided
// among workers. Success requires every peer to acknowledge. There is no
// rollback: peers that applied the set before another failed keep it.
func (c *Coordinator) Reassign(ctx context.Context, peers []Peer, slices []slice.Slice) error {
	start := time.Now()
	req := cluster.UpdateSlicesRequest{Slices: slices}
	if req.Slices == nil {
		req.Slices = []slice.Slice{}
	}
	_, err := fanOut(ctx, c, opReassign, peers, func(ctx context.Context, p Peer) (cluster.Ack, error) {
		var ack cluster.Ack
		err := p.Request(ctx, cluster.KindUpdateResponsibleSlices, req, &ack)
		return ack, err
	})
	observe(opReassign, start, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReassignmentFailed, err)
	}
	return nil
}

// Register routes worker-to-supervisor requests on ep to the pool-wide
// operations over the peers returned by live at request time.
func (c *Coordinator) Register(ep *cluster.Endpoint, live func() []Peer) {
	ep.Handle(cluster.KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return c.AggregateLoad(ctx, live())
	})
	ep.Handle(cluster.KindUpdateResponsibleSlices, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req cluster.UpdateSlicesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode slices: %w", err)
		}
		if err := c.Reassign(ctx, live(), req.Slices); err != nil {
			return nil, err
		}
		return cluster.Ack{OK: true}, nil
	})
}

// fanOut calls fn for every peer concurrently and waits for all of them.
// It returns the results in peer order, or the first error to arrive.
// Calls that are still running when another fails are not canceled.
func fanOut[T any](ctx context.Context, c *Coordinator, op string, peers []Peer, fn func(context.Context, Peer) (T, error)) ([]T, error) {
	results := make([]T, len(peers))
	errc := make(chan error, len(peers))

	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p Peer) {
			defer wg.Done()
			callCtx := ctx
			if c.callTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
				defer cancel()
			}
			r, err := fn(callCtx, p)
			if err != nil {
				metrics.WorkerCalls.WithLabelValues(op, "error").Inc()
				errc <- fmt.Errorf("worker slot %d pid %d: %w", p.Slot(), p.PID(), err)
				return
			}
			metrics.WorkerCalls.WithLabelValues(op, "ok").Inc()
			results[i] = r
		}(i, p)
	}
	wg.Wait()
	close(errc)

	if err, ok := <-errc; ok {
		log.Printf("coordinator: %s over %d workers failed: %v", op, len(peers), err)
		return nil, err
	}
	return results, nil
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FanOuts.WithLabelValues(op, outcome).Inc()
	metrics.FanOutLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
