// Package coordinator provides the pool-wide operations the supervisor runs
// on behalf of a worker.
// This file implements liveness probing of the workers in the pool.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/metrics"
)

// Health states reported by WorkerHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// WorkerHealth tracks the probe history of the worker currently at a slot.
// It is reset whenever a new process takes the slot.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last probe attempt
	LastHealthy      time.Time // Timestamp of the last successful probe
	Status           string    // "healthy", "unhealthy" or "unknown"
	Slot             int       // Pool slot index
	PID              int       // Process the history belongs to
	ConsecutiveFails int       // Number of consecutive failed probes
}

// HealthMonitor pings every live worker over its coordination channel at a
// fixed interval. A worker that misses maxFailures probes in a row is
// reported through the onUnhealthy callback, which the supervisor uses to
// kill it so the normal respawn path replaces it.
//
// This is opt-in hardening. Without it a hung worker is only noticed when
// a call to it never returns.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[int]*WorkerHealth                  // Current health per slot
	checkFunc   func(ctx context.Context, p Peer) error // Function to perform a probe
	onUnhealthy func(slot, pid int)                    // Callback when a worker becomes unhealthy
	ctx         context.Context                        // Context for cancellation
	cancel      context.CancelFunc                     // Cancel function for shutdown
	interval    time.Duration                          // How often to probe
	timeout     time.Duration                          // Per-probe timeout
	mu          sync.RWMutex                           // Protects workers map
	wg          sync.WaitGroup                         // Wait group for graceful shutdown
	maxFailures int                                    // Failures before marking unhealthy
}

// NewHealthMonitor creates a monitor that probes every interval. Workers
// are marked unhealthy after 3 consecutive failures; each probe times out
// after 2 seconds or the interval, whichever is shorter.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	monitor.SetOnUnhealthy(func(slot, pid int) { sup.Kill(slot) })
//	go monitor.Start(ctx, livePeers)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	timeout := 2 * time.Second
	if interval > 0 && interval < timeout {
		timeout = interval
	}
	return &HealthMonitor{
		interval:    interval,
		timeout:     timeout,
		maxFailures: 3,
		workers:     make(map[int]*WorkerHealth),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a worker becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(slot, pid int)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the default PING probe. Useful for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, p Peer) error) {
	h.checkFunc = checkFunc
}

// Start probes the workers returned by provider until ctx or the monitor
// is canceled. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []Peer) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = ping
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("Health monitor started with interval %v", h.interval)

	h.checkAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, provider())
		case <-ctx.Done():
			log.Println("Health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			log.Println("Health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Println("Health monitor stopped")
}

// checkAll probes every peer concurrently and forgets slots that are no
// longer live.
func (h *HealthMonitor) checkAll(ctx context.Context, peers []Peer) {
	current := make(map[int]bool, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		current[p.Slot()] = true
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			h.check(ctx, p)
		}(p)
	}
	wg.Wait()

	h.mu.Lock()
	for slot := range h.workers {
		if !current[slot] {
			delete(h.workers, slot)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, p Peer) {
	h.mu.Lock()
	health, exists := h.workers[p.Slot()]
	if !exists || health.PID != p.PID() {
		health = &WorkerHealth{
			Slot:        p.Slot(),
			PID:         p.PID(),
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.workers[p.Slot()] = health
	}
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(probeCtx, p)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err == nil {
		if health.Status == StatusUnhealthy {
			log.Printf("Worker slot %d (pid %d) recovered", health.Slot, health.PID)
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
		return
	}

	health.ConsecutiveFails++
	log.Printf("Health check failed for worker slot %d pid %d (attempt %d/%d): %v",
		health.Slot, health.PID, health.ConsecutiveFails, h.maxFailures, err)

	if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
		health.Status = StatusUnhealthy
		metrics.UnhealthyWorkers.Inc()
		log.Printf("Worker slot %d pid %d marked unhealthy after %d failures",
			health.Slot, health.PID, health.ConsecutiveFails)
		if h.onUnhealthy != nil {
			// call without holding the lock
			go h.onUnhealthy(health.Slot, health.PID)
		}
	}
}

// ping is the default probe: a PING round trip over the channel.
func ping(ctx context.Context, p Peer) error {
	var ack cluster.Ack
	if err := p.Request(ctx, cluster.KindPing, nil, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("worker slot %d did not acknowledge ping", p.Slot())
	}
	return nil
}

// GetWorkerHealth returns a copy of the health record for slot, or nil if
// the slot is not being monitored.
func (h *HealthMonitor) GetWorkerHealth(slot int) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[slot]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllWorkerHealth returns copies of all health records keyed by slot.
func (h *HealthMonitor) GetAllWorkerHealth() map[int]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[int]*WorkerHealth, len(h.workers))
	for slot, health := range h.workers {
		cp := *health
		result[slot] = &cp
	}
	return result
}

// IsHealthy reports whether the worker at slot passed its last probe.
func (h *HealthMonitor) IsHealthy(slot int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[slot]
	return exists && health.Status == StatusHealthy
}
