// Package core implements the cooperative task scheduler and the operating-mode lifecycle
// controller that drives it.
package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/pkg/types"
)

// ErrDuplicateTask is returned when a task name is registered twice.
var ErrDuplicateTask = errors.New("task already registered")

type taskEntry struct {
	name    string
	task    Task
	mask    types.ModeMask
	removed atomic.Bool
}

// Scheduler runs registered tasks once per tick, in registration order, for the
// modes their activation mask allows. A Scheduler can be ticked by its owner or
// started on its own fixed period.
type Scheduler struct {
	name   string
	period time.Duration
	clock  clock.WithTicker

	tasks     []*taskEntry
	byName    map[string]*taskEntry
	tasksLock sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	logger  *logging.Logger
}

type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.WithTicker) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func NewScheduler(name string, period time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		name:   name,
		period: period,
		clock:  clock.RealClock{},
		byName: make(map[string]*taskEntry),
		logger: logging.GetLogger("scheduler").With("scheduler", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Period() time.Duration { return s.period }

// RegisterTask adds task under name. A name already in use is rejected and the
// existing registration stays active.
func (s *Scheduler) RegisterTask(name string, task Task, mask types.ModeMask) error {
	if task == nil {
		return fmt.Errorf("task %s: nil task", name)
	}

	s.tasksLock.Lock()
	defer s.tasksLock.Unlock()

	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}

	entry := &taskEntry{name: name, task: task, mask: mask}
	s.tasks = append(s.tasks, entry)
	s.byName[name] = entry

	s.logger.Info("Task registered", "task", name)
	return nil
}

// UnregisterTask removes every registration of task. Removing an unknown task is a
// no-op. Tasks built from TaskFunc are not comparable; remove those by name.
func (s *Scheduler) UnregisterTask(task Task) {
	if task == nil || !reflect.TypeOf(task).Comparable() {
		return
	}

	s.tasksLock.Lock()
	defer s.tasksLock.Unlock()

	kept := s.tasks[:0]
	for _, e := range s.tasks {
		if reflect.TypeOf(e.task).Comparable() && e.task == task {
			s.removeLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	s.clearTail(len(kept))
	s.tasks = kept
}

// UnregisterName removes the task registered under name, if any.
func (s *Scheduler) UnregisterName(name string) {
	s.tasksLock.Lock()
	defer s.tasksLock.Unlock()

	entry, exists := s.byName[name]
	if !exists {
		return
	}
	kept := s.tasks[:0]
	for _, e := range s.tasks {
		if e != entry {
			kept = append(kept, e)
		}
	}
	s.clearTail(len(kept))
	s.tasks = kept
	s.removeLocked(entry)
}

func (s *Scheduler) removeLocked(e *taskEntry) {
	e.removed.Store(true)
	delete(s.byName, e.name)
	s.logger.Info("Task unregistered", "task", e.name)
}

// clearTail drops references left behind by in-place filtering.
func (s *Scheduler) clearTail(n int) {
	for i := n; i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
}

// TaskNames returns the registered names in registration order.
func (s *Scheduler) TaskNames() []string {
	s.tasksLock.Lock()
	defer s.tasksLock.Unlock()

	names := make([]string, 0, len(s.tasks))
	for _, e := range s.tasks {
		names = append(names, e.name)
	}
	return names
}

// Tick runs every task eligible for mode once, synchronously. Tasks may register or
// unregister tasks from inside Periodic; a task removed mid-tick does not run again
// in that tick, a task added mid-tick first runs on the next one.
func (s *Scheduler) Tick(mode types.OperatingMode) {
	start := s.clock.Now()

	s.tasksLock.Lock()
	snapshot := make([]*taskEntry, len(s.tasks))
	copy(snapshot, s.tasks)
	s.tasksLock.Unlock()

	for _, e := range snapshot {
		if e.removed.Load() || !e.mask.Has(mode) {
			continue
		}
		s.runTask(e, mode)
	}

	elapsed := s.clock.Since(start)
	metrics.TickDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())
	if s.period > 0 && elapsed > s.period {
		metrics.TickOverruns.WithLabelValues(s.name).Inc()
		s.logger.Warn("Tick overran period", "elapsed", elapsed, "period", s.period)
	}
}

func (s *Scheduler) runTask(e *taskEntry, mode types.OperatingMode) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panic", "task", e.name, "panic", r)
		}
	}()
	e.task.Periodic(mode)
}

// Start ticks the scheduler on its own period until ctx is cancelled or Stop is
// called. modes is sampled once per tick. Once ctx is cancelled the scheduler can be
// started again without Stop.
func (s *Scheduler) Start(ctx context.Context, modes ModeSource) error {
	if s.period <= 0 {
		return fmt.Errorf("scheduler %s: period must be positive", s.name)
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler %s is already running", s.name)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(modes)

	s.logger.Info("Scheduler started", "period", s.period)
	return nil
}

// Stop halts a started scheduler and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() error {
	if !s.running.Load() {
		return fmt.Errorf("scheduler %s is not running", s.name)
	}

	s.cancel()
	s.wg.Wait()
	s.running.Store(false)

	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) run(modes ModeSource) {
	defer s.wg.Done()
	// a cancelled parent ends the loop without Stop
	defer s.running.Store(false)

	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			s.Tick(modes.Mode())
		}
	}
}

func (s *Scheduler) Status() map[string]interface{} {
	return map[string]interface{}{
		"name":    s.name,
		"period":  s.period.String(),
		"tasks":   s.TaskNames(),
		"running": s.running.Load(),
	}
}
