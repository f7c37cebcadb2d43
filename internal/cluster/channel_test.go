package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPair returns two connected endpoints. Handlers must be registered via
// setup before the read loops start.
func newPair(t *testing.T, setup func(sup, wrk *Endpoint)) (*Endpoint, *Endpoint) {
	t.Helper()
	c1, c2 := net.Pipe()
	sup := NewEndpoint("supervisor", c1)
	wrk := NewEndpoint("worker", c2)
	if setup != nil {
		setup(sup, wrk)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = sup.Serve(ctx) }()
	go func() { defer wg.Done(); _ = wrk.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return sup, wrk
}

func TestRequestReply(t *testing.T) {
	sup, _ := newPair(t, func(_, wrk *Endpoint) {
		wrk.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return map[string]uint64{"[0,10)": 5}, nil
		})
	})

	var out map[string]uint64
	err := sup.Request(context.Background(), KindRequestLoad, nil, &out)

	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"[0,10)": 5}, out)
}

func TestRequestPayloadReachesHandler(t *testing.T) {
	sup, _ := newPair(t, func(_, wrk *Endpoint) {
		wrk.Handle(KindUpdateResponsibleSlices, func(ctx context.Context, payload json.RawMessage) (any, error) {
			var req UpdateSlicesRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			return Ack{OK: len(req.Slices) == 2}, nil
		})
	})

	var ack Ack
	err := sup.Request(context.Background(), KindUpdateResponsibleSlices,
		json.RawMessage(`{"slices":[{"start":0,"end":1},{"start":1,"end":2}]}`), &ack)

	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestRequestRemoteError(t *testing.T) {
	sup, _ := newPair(t, func(_, wrk *Endpoint) {
		wrk.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, errors.New("table unavailable")
		})
	})

	err := sup.Request(context.Background(), KindRequestLoad, nil, nil)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "table unavailable", remote.Message)
	assert.NotErrorIs(t, err, ErrPeerUnreachable)
}

func TestRequestUnknownKind(t *testing.T) {
	sup, _ := newPair(t, nil)

	err := sup.Request(context.Background(), KindPing, nil, nil)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "no handler for PING")
}

// TestHandlerCallsBack covers the worker -> supervisor -> same worker path:
// a handler on one side issues a request to the peer that sent it.
func TestHandlerCallsBack(t *testing.T) {
	_, wrk := newPair(t, func(sup, wrk *Endpoint) {
		wrk.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return map[string]uint64{"[0,10)": 2}, nil
		})
		sup.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			var local map[string]uint64
			if err := sup.Request(ctx, KindRequestLoad, nil, &local); err != nil {
				return nil, err
			}
			local["[0,10)"] *= 10
			return local, nil
		})
	})

	var out map[string]uint64
	err := wrk.Request(context.Background(), KindRequestLoad, nil, &out)

	require.NoError(t, err)
	assert.Equal(t, uint64(20), out["[0,10)"])
}

func TestConcurrentRequestsCompleteOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	sup, _ := newPair(t, func(_, wrk *Endpoint) {
		wrk.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-release
			return "slow", nil
		})
		wrk.Handle(KindPing, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return "fast", nil
		})
	})

	slowDone := make(chan string, 1)
	go func() {
		var out string
		_ = sup.Request(context.Background(), KindRequestLoad, nil, &out)
		slowDone <- out
	}()

	var fast string
	require.NoError(t, sup.Request(context.Background(), KindPing, nil, &fast))
	assert.Equal(t, "fast", fast)

	select {
	case <-slowDone:
		t.Fatal("slow request completed before release")
	default:
	}

	close(release)
	assert.Equal(t, "slow", <-slowDone)
}

func TestPeerGoneMidRequest(t *testing.T) {
	entered := make(chan struct{})
	var wrk *Endpoint
	sup, _ := newPair(t, func(_, w *Endpoint) {
		wrk = w
		w.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})

	errc := make(chan error, 1)
	go func() { errc <- sup.Request(context.Background(), KindRequestLoad, nil, nil) }()

	<-entered
	require.NoError(t, wrk.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPeerUnreachable)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not fail after peer closed")
	}
}

func TestRequestAfterClose(t *testing.T) {
	sup, _ := newPair(t, nil)
	require.NoError(t, sup.Close())

	err := sup.Request(context.Background(), KindRequestLoad, nil, nil)

	assert.ErrorIs(t, err, ErrPeerUnreachable)
	select {
	case <-sup.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestRequestAfterPeerClosed(t *testing.T) {
	sup, wrk := newPair(t, nil)
	require.NoError(t, wrk.Close())

	<-sup.Done()
	err := sup.Request(context.Background(), KindRequestLoad, nil, nil)

	assert.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestRequestContextCanceled(t *testing.T) {
	sup, _ := newPair(t, func(_, wrk *Endpoint) {
		wrk.Handle(KindRequestLoad, func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sup.Request(ctx, KindRequestLoad, nil, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrPeerUnreachable)
}

func TestServeReturnsNilOnPeerClose(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewEndpoint("a", c1)

	errc := make(chan error, 1)
	go func() { errc <- a.Serve(context.Background()) }()
	require.NoError(t, c2.Close())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeReportsGarbage(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewEndpoint("a", c1)

	errc := make(chan error, 1)
	go func() { errc <- a.Serve(context.Background()) }()
	go func() { _, _ = c2.Write([]byte("not json\n")) }()

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	_ = c2.Close()
}
