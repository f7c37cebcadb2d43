package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// HandlerFunc serves one request kind. The returned value is JSON encoded
// into the reply; a non-nil error is delivered to the caller as a
// RemoteError.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Endpoint is one side of a coordination channel between the supervisor
// and a single worker. Both sides may issue requests at any time; every
// request is an independent request/response pair matched by ID, so
// concurrent requests to the same peer complete in any order.
//
// Incoming requests are dispatched on their own goroutine, which lets a
// handler issue requests back over the same channel while the read loop
// keeps delivering replies.
type Endpoint struct {
	conn io.ReadWriteCloser
	name string

	writeMu sync.Mutex
	enc     *json.Encoder

	mu       sync.Mutex
	handlers map[Kind]HandlerFunc
	pending  map[uint64]chan envelope
	nextID   uint64
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint wraps conn. name only appears in logs and error messages.
func NewEndpoint(name string, conn io.ReadWriteCloser) *Endpoint {
	return &Endpoint{
		conn:     conn,
		name:     name,
		enc:      json.NewEncoder(conn),
		handlers: make(map[Kind]HandlerFunc),
		pending:  make(map[uint64]chan envelope),
		done:     make(chan struct{}),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (e *Endpoint) Handle(kind Kind, h HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Serve reads messages until the connection fails or ctx is canceled, then
// fails every outstanding request with ErrPeerUnreachable. A clean close by
// either side returns nil.
func (e *Endpoint) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = e.Close() })
	defer stop()
	defer e.Close()

	dec := json.NewDecoder(bufio.NewReader(e.conn))
	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			if e.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("%s: read: %w", e.name, err)
		}
		if env.Reply {
			e.deliver(env)
			continue
		}
		go e.dispatch(ctx, env)
	}
}

// Request sends payload as kind and waits for the reply, decoding it into
// out when out is non-nil. It fails with ErrPeerUnreachable if the channel
// is closed before a reply arrives and returns a *RemoteError when the
// peer's handler failed. There is no retry.
func (e *Endpoint) Request(ctx context.Context, kind Kind, payload any, out any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", e.name, kind, err)
		}
		raw = b
	}

	ch := make(chan envelope, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%s %s: %w", e.name, kind, ErrPeerUnreachable)
	}
	e.nextID++
	id := e.nextID
	e.pending[id] = ch
	e.mu.Unlock()
	defer e.forget(id)

	if err := e.write(envelope{ID: id, Kind: kind, Payload: raw}); err != nil {
		return fmt.Errorf("%s %s: %w: %v", e.name, kind, ErrPeerUnreachable, err)
	}

	select {
	case rep := <-ch:
		return decodeReply(kind, rep, out)
	case <-e.done:
		// a reply may have landed just before the channel went down
		select {
		case rep := <-ch:
			return decodeReply(kind, rep, out)
		default:
		}
		return fmt.Errorf("%s %s: %w", e.name, kind, ErrPeerUnreachable)
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", e.name, kind, ctx.Err())
	}
}

// Close shuts the channel down. Outstanding and future requests fail with
// ErrPeerUnreachable.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.closeErr = e.conn.Close()
		close(e.done)
	})
	return e.closeErr
}

// Done is closed once the channel can no longer carry messages.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

func (e *Endpoint) dispatch(ctx context.Context, req envelope) {
	reply := envelope{ID: req.ID, Kind: req.Kind, Reply: true}

	e.mu.Lock()
	h := e.handlers[req.Kind]
	e.mu.Unlock()

	if h == nil {
		reply.Error = fmt.Sprintf("no handler for %s", req.Kind)
	} else if result, err := h(ctx, req.Payload); err != nil {
		reply.Error = err.Error()
		if reply.Error == "" {
			reply.Error = "handler failed"
		}
	} else if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			reply.Error = fmt.Sprintf("encode reply: %v", err)
		} else {
			reply.Payload = b
		}
	}

	if err := e.write(reply); err != nil && !e.isClosed() {
		log.Printf("%s: reply to %s #%d: %v", e.name, req.Kind, req.ID, err)
	}
}

func (e *Endpoint) deliver(rep envelope) {
	e.mu.Lock()
	ch, ok := e.pending[rep.ID]
	e.mu.Unlock()
	if !ok {
		// requester gave up (context canceled)
		return
	}
	select {
	case ch <- rep:
	default:
	}
}

func (e *Endpoint) write(env envelope) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.enc.Encode(env)
}

func (e *Endpoint) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func decodeReply(kind Kind, rep envelope, out any) error {
	if rep.Error != "" {
		return &RemoteError{Kind: kind, Message: rep.Error}
	}
	if out == nil || len(rep.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(rep.Payload, out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", kind, err)
	}
	return nil
}
