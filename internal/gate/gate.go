// Package gate implements the Concurrency Gate: a process-wide, atomic
// admission coordinator with a FIFO overflow queue and a single-consumer
// notifier channel. It mirrors the shape of the original ConcurrencyService:
// one mutex guards both the running set and the pending queue so a
// check-and-insert is always atomic, an RAII-style Guard releases its slot
// even if the caller panics, and a finite cap is only honoured when a
// supplied license predicate reports true.
package gate

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
)

// LicenseValidator reports whether a finite concurrency cap may be enforced.
// The zero value (nil) is treated as "no license", matching the nil-safe
// behaviour of a license validator that has nothing loaded.
type LicenseValidator interface {
	Valid() bool
}

// AlwaysValid is a LicenseValidator that never requires a license, for
// deployments that run unlimited mode exclusively.
type AlwaysValid struct{}

func (AlwaysValid) Valid() bool { return true }

// neverValid backs a nil LicenseValidator.
type neverValid struct{}

func (neverValid) Valid() bool { return false }

// Gate is the Concurrency Gate. The zero value is not usable; construct with
// New.
type Gate struct {
	mu        sync.Mutex
	running   map[string]struct{}
	pending   []string
	pendingIn map[string]struct{}

	cap       *int // nil means unlimited
	license   LicenseValidator
	notifyCh  chan string
}

// New creates a Gate. cap == nil means unlimited mode: admission always
// succeeds and the license validator is never consulted. validator may be
// nil, which is treated as "never valid" (matching the original's nil-safe
// license predicate).
func New(cap *int, validator LicenseValidator) *Gate {
	if validator == nil {
		validator = neverValid{}
	}
	return &Gate{
		running:   make(map[string]struct{}),
		pendingIn: make(map[string]struct{}),
		cap:       cap,
		license:   validator,
	}
}

// SetNotifyChannel registers the single-consumer channel that receives
// pending task ids as slots free up. Replacing the channel does not requeue
// ids already sent to the previous one.
func (g *Gate) SetNotifyChannel(ch chan string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifyCh = ch
}

// Guard is returned by a successful TryStart. Release must be called exactly
// once, typically via defer, to free the slot. Release is idempotent.
type Guard struct {
	gate    *Gate
	taskID  string
	mu      sync.Mutex
	released bool
}

// Release removes the task from the running set and, if a slot frees up,
// dispatches the next pending task to the notifier channel. Safe to call
// multiple times and safe to call from a deferred recover() after a panic.
func (gd *Guard) Release() {
	gd.mu.Lock()
	if gd.released {
		gd.mu.Unlock()
		return
	}
	gd.released = true
	gd.mu.Unlock()

	gd.gate.release(gd.taskID)
}

func (gd *Guard) TaskID() string { return gd.taskID }

// TryStart atomically checks admission and, on success, registers the task
// id as running and returns a Guard. The whole check-and-insert happens
// under one lock so no two concurrent callers can both observe
// current < cap and admit.
func (g *Gate) TryStart(taskID string) (*Guard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cap == nil {
		g.running[taskID] = struct{}{}
		return &Guard{gate: g, taskID: taskID}, nil
	}

	if !g.license.Valid() {
		return nil, domain.NewLicenseRequired()
	}

	current := len(g.running)
	if current >= *g.cap {
		return nil, domain.NewConcurrencyOverflow(current, *g.cap)
	}

	g.running[taskID] = struct{}{}
	return &Guard{gate: g, taskID: taskID}, nil
}

func (g *Gate) release(taskID string) {
	g.mu.Lock()
	delete(g.running, taskID)

	var (
		notifyCh chan string
		next     string
		hasNext  bool
	)
	if len(g.pending) > 0 {
		next = g.pending[0]
		g.pending = g.pending[1:]
		delete(g.pendingIn, next)
		hasNext = true
		notifyCh = g.notifyCh
	}
	g.mu.Unlock()

	if !hasNext {
		return
	}

	if notifyCh == nil {
		g.requeueAtHead(next)
		return
	}

	select {
	case notifyCh <- next:
	default:
		// Consumer not ready; re-queue at the head so FIFO order for the
		// remaining pending ids is preserved.
		g.requeueAtHead(next)
		log.Warn().Str("task_id", next).Msg("gate: notify channel not ready, requeued at head")
	}
}

func (g *Gate) requeueAtHead(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pendingIn[taskID]; ok {
		return
	}
	g.pending = append([]string{taskID}, g.pending...)
	g.pendingIn[taskID] = struct{}{}
}

// Enqueue adds a task id to the FIFO pending queue. Idempotent: a task id
// already queued is not duplicated.
func (g *Gate) Enqueue(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pendingIn[taskID]; ok {
		return
	}
	g.pending = append(g.pending, taskID)
	g.pendingIn[taskID] = struct{}{}
}

// Remove drops a task id from the pending queue, used for cancellation. A
// task id not present is a no-op.
func (g *Gate) Remove(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pendingIn[taskID]; !ok {
		return
	}
	delete(g.pendingIn, taskID)
	for i, id := range g.pending {
		if id == taskID {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			break
		}
	}
}

// RunningCount returns the number of currently admitted tasks.
func (g *Gate) RunningCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// PendingCount returns the number of tasks waiting in the FIFO queue.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// PendingTaskIDs returns a snapshot of the pending queue in FIFO order.
func (g *Gate) PendingTaskIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.pending))
	copy(out, g.pending)
	return out
}

// IsRunning reports whether a task id currently holds a slot.
func (g *Gate) IsRunning(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[taskID]
	return ok
}
