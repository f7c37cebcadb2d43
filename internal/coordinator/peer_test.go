package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/slice"
)

// fakePeer answers coordination requests in-process from a load table and
// slice list, with optional injected failure or blocking.
type fakePeer struct {
	slot int
	pid  int

	mu      sync.Mutex
	load    slice.LoadTable
	slices  []slice.Slice
	calls   map[cluster.Kind]int
	replies map[cluster.Kind]int

	fail    error
	block   chan struct{} // when set, requests wait for it to close
	entered chan struct{}
}

func newFakePeer(slot int, load slice.LoadTable) *fakePeer {
	if load == nil {
		load = slice.LoadTable{}
	}
	return &fakePeer{slot: slot, pid: 1000 + slot, load: load, calls: map[cluster.Kind]int{}, replies: map[cluster.Kind]int{}}
}

func (p *fakePeer) Slot() int { return p.slot }
func (p *fakePeer) PID() int  { return p.pid }

func (p *fakePeer) Request(ctx context.Context, kind cluster.Kind, payload, out any) error {
	p.mu.Lock()
	p.calls[kind]++
	block, entered, fail := p.block, p.entered, p.fail
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", kind, ctx.Err())
		}
	}
	if fail != nil {
		return fail
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var reply any
	switch kind {
	case cluster.KindRequestLoad:
		reply = p.load
	case cluster.KindUpdateResponsibleSlices:
		b, _ := json.Marshal(payload)
		var req cluster.UpdateSlicesRequest
		if err := json.Unmarshal(b, &req); err != nil {
			return err
		}
		p.slices = slice.Sorted(req.Slices)
		p.load = slice.LoadTable{}
		for _, s := range p.slices {
			p.load[s.Key()] = 0
		}
		reply = cluster.Ack{OK: true}
	case cluster.KindPing:
		reply = cluster.Ack{OK: true}
	default:
		return &cluster.RemoteError{Kind: kind, Message: "no handler for " + string(kind)}
	}

	// round-trip through JSON like the real channel does
	b, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	p.replies[kind]++
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (p *fakePeer) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *fakePeer) callCount(kind cluster.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *fakePeer) replyCount(kind cluster.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replies[kind]
}

func (p *fakePeer) currentLoad() slice.LoadTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load.Clone()
}

func (p *fakePeer) currentSlices() []slice.Slice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]slice.Slice{}, p.slices...)
}
