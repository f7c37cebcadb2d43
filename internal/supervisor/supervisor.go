package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/exp/slices"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/metrics"
)

// Process is a running worker as seen by the supervisor.
type Process interface {
	// PID identifies the process. A respawned worker has a new PID.
	PID() int
	// Conn is the supervisor's end of the coordination channel.
	Conn() io.ReadWriteCloser
	// Wait blocks until the process terminates and returns the cause.
	Wait() error
	// Stop asks the process to exit. It returns os.ErrProcessDone once
	// Wait has returned.
	Stop() error
	// Kill terminates the process immediately. It returns os.ErrProcessDone
	// once Wait has returned.
	Kill() error
}

// Spawner creates worker processes. Spawn returns once the process is
// started and its channel is connected.
type Spawner interface {
	Spawn(slot int) (Process, error)
}

// Termination records that the worker at Slot is gone. Cause is the
// process exit error, or the spawn error when a replacement failed to
// start.
type Termination struct {
	Slot  int
	PID   int
	Cause error
	At    time.Time
}

// WorkerHandle identifies one live worker: its pool slot and its process.
// A handle is never reused; a respawned worker gets a new handle at the
// same slot.
type WorkerHandle struct {
	slot    int
	pid     int
	started time.Time
	proc    Process
	ep      *cluster.Endpoint
}

// Slot returns the pool slot index.
func (h *WorkerHandle) Slot() int { return h.slot }

// PID returns the worker's process ID.
func (h *WorkerHandle) PID() int { return h.pid }

// Started returns when the process was spawned.
func (h *WorkerHandle) Started() time.Time { return h.started }

// Request sends one coordination request to this worker.
func (h *WorkerHandle) Request(ctx context.Context, kind cluster.Kind, payload, out any) error {
	return h.ep.Request(ctx, kind, payload, out)
}

func (h *WorkerHandle) String() string {
	return fmt.Sprintf("worker[slot=%d pid=%d]", h.slot, h.pid)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEndpointSetup installs fn to register handlers on each new worker's
// channel before it starts serving. This is how worker-to-supervisor
// requests get routed to the pool-wide coordinators.
func WithEndpointSetup(fn func(h *WorkerHandle, ep *cluster.Endpoint)) Option {
	return func(s *Supervisor) { s.setup = fn }
}

// WithSpawnRetryDelay sets how long to wait before retrying a slot whose
// replacement failed to start. Respawn after a termination is always
// immediate.
func WithSpawnRetryDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.retryDelay = d }
}

// WithStopTimeout sets how long shutdown waits for workers to exit after
// Stop before killing them.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.stopTimeout = d }
}

// Supervisor keeps exactly size workers alive, one per slot. When a worker
// terminates for any reason its handle is removed at once and a
// replacement is spawned at the same slot, with no backoff and no limit.
// The replacement starts with no slices; nothing is migrated.
type Supervisor struct {
	spawner     Spawner
	size        int
	setup       func(*WorkerHandle, *cluster.Endpoint)
	retryDelay  time.Duration
	stopTimeout time.Duration

	mu       sync.RWMutex
	handles  map[int]*WorkerHandle
	stopping bool
	respawns int

	// terminations waiting to be respawned, drained by Run
	evMu   sync.Mutex
	events *queue.Queue
	wake   chan struct{}

	watchers sync.WaitGroup
}

// New creates a supervisor for a pool of size workers. Nothing is spawned
// until Run.
func New(spawner Spawner, size int, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:     spawner,
		size:        size,
		retryDelay:  time.Second,
		stopTimeout: 5 * time.Second,
		handles:     make(map[int]*WorkerHandle),
		events:      queue.New(),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size returns the fixed pool size.
func (s *Supervisor) Size() int { return s.size }

// Run spawns every slot and then respawns terminated workers until ctx is
// canceled, at which point it stops all workers and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Printf("supervisor: starting pool of %d workers", s.size)
	for slot := 0; slot < s.size; slot++ {
		s.spawn(ctx, slot, false)
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.wake:
			for {
				ev, ok := s.nextEvent()
				if !ok || ctx.Err() != nil {
					break
				}
				s.spawn(ctx, ev.Slot, true)
			}
		}
	}
}

// Handles returns a snapshot of the live workers ordered by slot. Slots
// whose worker has terminated and not yet been replaced are absent.
func (s *Supervisor) Handles() []*WorkerHandle {
	s.mu.RLock()
	out := make([]*WorkerHandle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *WorkerHandle) int { return cmp.Compare(a.slot, b.slot) })
	return out
}

// Handle returns the live worker at slot, if any.
func (s *Supervisor) Handle(slot int) (*WorkerHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[slot]
	return h, ok
}

// Respawns returns how many replacement workers have been started.
func (s *Supervisor) Respawns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.respawns
}

// Kill terminates the worker at slot. The normal respawn path replaces it.
func (s *Supervisor) Kill(slot int) error {
	h, ok := s.Handle(slot)
	if !ok {
		return fmt.Errorf("no live worker at slot %d", slot)
	}
	log.Printf("supervisor: killing %s", h)
	return h.proc.Kill()
}

func (s *Supervisor) spawn(ctx context.Context, slot int, respawn bool) {
	proc, err := s.spawner.Spawn(slot)
	if err != nil {
		log.Printf("supervisor: spawn slot %d failed, retrying in %v: %v", slot, s.retryDelay, err)
		time.AfterFunc(s.retryDelay, func() {
			s.enqueue(Termination{Slot: slot, Cause: err, At: time.Now()})
		})
		return
	}

	h := &WorkerHandle{slot: slot, pid: proc.PID(), started: time.Now(), proc: proc}
	h.ep = cluster.NewEndpoint(h.String(), proc.Conn())
	if s.setup != nil {
		s.setup(h, h.ep)
	}
	go func() {
		if err := h.ep.Serve(ctx); err != nil {
			log.Printf("supervisor: %s channel: %v", h, err)
		}
	}()

	s.mu.Lock()
	s.handles[slot] = h
	if respawn {
		s.respawns++
		metrics.Respawns.Inc()
	}
	metrics.LiveWorkers.Set(float64(len(s.handles)))
	s.mu.Unlock()

	log.Printf("supervisor: %s started", h)

	s.watchers.Add(1)
	go s.watch(h)
}

// watch waits for h's process to end, drops the handle and queues the
// slot for respawn.
func (s *Supervisor) watch(h *WorkerHandle) {
	defer s.watchers.Done()
	cause := h.proc.Wait()

	s.mu.Lock()
	if cur, ok := s.handles[h.slot]; ok && cur == h {
		delete(s.handles, h.slot)
	}
	metrics.LiveWorkers.Set(float64(len(s.handles)))
	stopping := s.stopping
	s.mu.Unlock()

	_ = h.ep.Close()
	if stopping {
		log.Printf("supervisor: %s exited during shutdown", h)
		return
	}
	log.Printf("supervisor: %s exited (%v), respawning", h, cause)
	s.enqueue(Termination{Slot: h.slot, PID: h.pid, Cause: cause, At: time.Now()})
}

func (s *Supervisor) enqueue(ev Termination) {
	s.evMu.Lock()
	s.events.Add(ev)
	s.evMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) nextEvent() (Termination, bool) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.events.Length() == 0 {
		return Termination{}, false
	}
	return s.events.Remove().(Termination), true
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	live := s.Handles()
	log.Printf("supervisor: stopping %d workers", len(live))
	for _, h := range live {
		if err := h.proc.Stop(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("supervisor: stop %s: %v", h, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		for _, h := range s.Handles() {
			log.Printf("supervisor: %s did not stop, killing", h)
			_ = h.proc.Kill()
		}
		<-done
	}
	log.Println("supervisor stopped")
}
