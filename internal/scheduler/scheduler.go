// Package scheduler implements the DAG Scheduler (C8): the event-driven glue
// between a composite task's dependency graph, the concurrency gate, and the
// executor. It owns no durable state beyond what is already in the store and
// the gate; every trigger re-derives what to do next from a store query.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
	"github.com/delinoio/delidev/internal/events"
	"github.com/delinoio/delidev/internal/gate"
)

// UnitExecutor is the subset of the Executor the scheduler drives. It is
// narrowed to one method here the same way the executor narrows the
// scheduler to Cascader, so neither package needs the other's full surface.
type UnitExecutor interface {
	Execute(ctx context.Context, guard *gate.Guard, unitTaskID string) error
}

type Scheduler struct {
	store    domain.Store
	gate     *gate.Gate
	executor UnitExecutor
	emitter  events.Emitter

	notifyCh chan string
	done     chan struct{}
	wg       sync.WaitGroup
}

type Config struct {
	Store    domain.Store
	Gate     *gate.Gate
	Executor UnitExecutor
	Emitter  events.Emitter
}

// New wires the scheduler to its gate's notifier channel and starts the
// background dispatcher that drains it. Callers must call Shutdown when
// done to stop that goroutine.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:    cfg.Store,
		gate:     cfg.Gate,
		executor: cfg.Executor,
		emitter:  cfg.Emitter,
		notifyCh: make(chan string, 64),
		done:     make(chan struct{}),
	}
	s.gate.SetNotifyChannel(s.notifyCh)

	s.wg.Add(1)
	go s.runPendingDispatcher()

	return s
}

// Shutdown stops the background pending-slot dispatcher and waits for it to
// exit. It does not cancel in-flight executions, which run on detached
// contexts by design.
func (s *Scheduler) Shutdown() {
	close(s.done)
	s.wg.Wait()
}

// OnCompositeApproved is the planner's Dispatcher callback: it computes the
// initial executable set of a freshly-approved composite task (every node
// with no dependencies) and dispatches each one. A node just materialised by
// ApprovePlan is always UnitInProgress and has never been handed to the
// gate, so no additional status filter applies here; that filter belongs to
// GetReadyDependents, which guards against re-dispatching a node the cascade
// path has already picked up.
func (s *Scheduler) OnCompositeApproved(ctx context.Context, compositeTaskID string) {
	composite, err := s.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		log.Error().Err(err).Str("composite_task_id", compositeTaskID).Msg("scheduler: failed to load approved composite task")
		return
	}

	g, gctx := errgroup.WithContext(context.Background())
	for _, node := range composite.Nodes {
		if len(node.DependsOn) > 0 {
			continue
		}
		unitTaskID := node.UnitTaskID
		g.Go(func() error {
			s.dispatch(gctx, unitTaskID)
			return nil
		})
	}
	_ = g.Wait()
}

// OnUnitTaskDone is the executor's Cascader callback. It runs the cascade
// and composite rollup on a fresh goroutine with a detached context so a
// long dependency chain never grows the caller's stack or ties cascades to
// the lifetime of whatever context completed the triggering unit task.
func (s *Scheduler) OnUnitTaskDone(ctx context.Context, unitTaskID string) {
	go s.cascade(context.Background(), unitTaskID)
}

func (s *Scheduler) cascade(ctx context.Context, doneUnitTaskID string) {
	readyIDs, err := s.store.CompositeTasks().GetReadyDependents(ctx, doneUnitTaskID)
	if err != nil {
		log.Error().Err(err).Str("unit_task_id", doneUnitTaskID).Msg("scheduler: failed to compute ready dependents")
	} else if len(readyIDs) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range readyIDs {
			unitTaskID := id
			g.Go(func() error {
				s.dispatch(gctx, unitTaskID)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.rollup(ctx, doneUnitTaskID)
}

// rollup transitions the composite task owning doneUnitTaskID to Done once
// every node is Done. The InProgress precondition on SetStatus is what
// prevents a race when multiple unit tasks finish at nearly the same time:
// the first cascade to observe "all done" wins the transition, and every
// later arrival finds a composite that is no longer InProgress and no-ops.
func (s *Scheduler) rollup(ctx context.Context, doneUnitTaskID string) {
	compositeTaskID, err := s.store.CompositeTasks().FindOwningComposite(ctx, doneUnitTaskID)
	if err != nil {
		log.Error().Err(err).Str("unit_task_id", doneUnitTaskID).Msg("scheduler: failed to find owning composite task")
		return
	}
	if compositeTaskID == "" {
		return
	}

	composite, err := s.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		log.Error().Err(err).Str("composite_task_id", compositeTaskID).Msg("scheduler: failed to load composite task for rollup")
		return
	}
	if composite.Status != domain.CompositeInProgress {
		return
	}

	allDone, err := s.store.CompositeTasks().AreAllNodesDone(ctx, compositeTaskID)
	if err != nil {
		log.Error().Err(err).Str("composite_task_id", compositeTaskID).Msg("scheduler: failed to check composite completion")
		return
	}
	if !allDone {
		return
	}

	if err := s.store.CompositeTasks().SetStatus(ctx, compositeTaskID, domain.CompositeInProgress, domain.CompositeDone); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			// Another cascade already drove the transition; expected under
			// concurrent completion of the last two nodes.
			return
		}
		log.Error().Err(err).Str("composite_task_id", compositeTaskID).Msg("scheduler: failed to mark composite task done")
		return
	}
	s.emitter.Emit(ctx, events.TaskStatusChanged(compositeTaskID, string(domain.CompositeInProgress), string(domain.CompositeDone)))
}

// dispatch tries to admit unitTaskID through the gate and, on success, runs
// it on a detached goroutine so the caller (an errgroup member dispatching a
// whole wave) never blocks on one slow execution. On overflow the task id is
// queued for the pending dispatcher to retry once a slot frees up.
func (s *Scheduler) dispatch(ctx context.Context, unitTaskID string) {
	guard, err := s.gate.TryStart(unitTaskID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyOverflow) {
			s.gate.Enqueue(unitTaskID)
			return
		}
		log.Error().Err(err).Str("unit_task_id", unitTaskID).Msg("scheduler: gate rejected task")
		return
	}

	go func() {
		if err := s.executor.Execute(context.Background(), guard, unitTaskID); err != nil {
			log.Error().Err(err).Str("unit_task_id", unitTaskID).Msg("scheduler: unit task execution failed")
		}
	}()
}

// runPendingDispatcher drains the gate's notifier channel for the lifetime
// of the scheduler, mirroring the teacher's dedicated background-goroutine
// idiom for async lifecycle steps (waitForCompletion/pollCompletion) rather
// than polling.
func (s *Scheduler) runPendingDispatcher() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case unitTaskID := <-s.notifyCh:
			s.handlePendingSlot(context.Background(), unitTaskID)
		}
	}
}

// handlePendingSlot re-validates a pending task before retrying it: by the
// time a slot frees up the task may have been rejected or otherwise moved on
// by a path other than normal execution, in which case it is simply dropped.
func (s *Scheduler) handlePendingSlot(ctx context.Context, unitTaskID string) {
	task, err := s.store.UnitTasks().GetByID(ctx, unitTaskID)
	if err != nil {
		log.Warn().Err(err).Str("unit_task_id", unitTaskID).Msg("scheduler: pending task vanished before retry")
		return
	}
	if task.Status != domain.UnitInProgress {
		return
	}

	s.dispatch(ctx, unitTaskID)
}

// BlockedUnitTaskIDs reports unit tasks that are nodes of an InProgress
// composite task whose dependencies are not all satisfied yet, for
// observability endpoints.
func (s *Scheduler) BlockedUnitTaskIDs(ctx context.Context) ([]string, error) {
	return s.store.CompositeTasks().GetBlockedUnitTaskIDs(ctx)
}

// DispatchUnitTask admits a standalone unit task (one created directly, with
// no owning composite task and so never reached by OnCompositeApproved) for
// execution. The command surface calls this right after creating such a
// task.
func (s *Scheduler) DispatchUnitTask(ctx context.Context, unitTaskID string) {
	s.dispatch(ctx, unitTaskID)
}
