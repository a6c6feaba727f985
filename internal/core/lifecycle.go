package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/pkg/types"
)

const stateBoot = "boot"

func eventFor(mode types.OperatingMode) string { return "to_" + mode.String() }

// Lifecycle owns the main control loop. Every tick it samples the mode selector,
// fires the Stop/Start hooks on a mode change, ticks the scheduler, then fires the
// Continuous hooks.
type Lifecycle struct {
	selector  ModeSelector
	scheduler *Scheduler
	handler   ModeHandler
	period    time.Duration
	clock     clock.WithTicker

	machine *fsm.FSM
	mode    atomic.Int32
	ticks   atomic.Uint64
	running atomic.Bool
	logger  *logging.Logger
}

type LifecycleOption func(*Lifecycle)

func WithLifecycleClock(c clock.WithTicker) LifecycleOption {
	return func(l *Lifecycle) { l.clock = c }
}

func NewLifecycle(selector ModeSelector, scheduler *Scheduler, handler ModeHandler, period time.Duration, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		selector:  selector,
		scheduler: scheduler,
		handler:   handler,
		period:    period,
		clock:     clock.RealClock{},
		logger:    logging.GetLogger("lifecycle"),
	}
	for _, opt := range opts {
		opt(l)
	}

	states := append([]string{stateBoot}, modeNames()...)
	events := make(fsm.Events, 0, len(types.Modes))
	for _, m := range types.Modes {
		src := make([]string, 0, len(states)-1)
		for _, s := range states {
			if s != m.String() {
				src = append(src, s)
			}
		}
		events = append(events, fsm.EventDesc{Name: eventFor(m), Src: src, Dst: m.String()})
	}

	callbacks := fsm.Callbacks{
		"leave_state": func(_ context.Context, e *fsm.Event) {
			if e.Src == stateBoot {
				return
			}
			if mode, err := types.ParseMode(e.Src); err == nil {
				l.handler.ModeStop(mode)
			}
		},
		"enter_state": func(_ context.Context, e *fsm.Event) {
			mode, err := types.ParseMode(e.Dst)
			if err != nil {
				return
			}
			l.mode.Store(int32(mode))
			metrics.ModeTransitions.WithLabelValues(e.Src, e.Dst).Inc()
			l.logger.Info("Mode transition", "from", e.Src, "to", e.Dst)
			l.handler.ModeStart(mode)
		},
	}

	l.machine = fsm.NewFSM(stateBoot, events, callbacks)
	return l
}

func modeNames() []string {
	names := make([]string, 0, len(types.Modes))
	for _, m := range types.Modes {
		names = append(names, m.String())
	}
	return names
}

// Mode returns the active operating mode. Before the first tick it is Disabled.
func (l *Lifecycle) Mode() types.OperatingMode {
	return types.OperatingMode(l.mode.Load())
}

// Ticks returns how many lifecycle ticks have completed.
func (l *Lifecycle) Ticks() uint64 { return l.ticks.Load() }

// Tick runs one lifecycle cycle.
func (l *Lifecycle) Tick(ctx context.Context) {
	sampled := l.selector.SampleMode()
	if !sampled.Valid() {
		l.logger.Warn("Invalid mode sampled, holding disabled", "mode", sampled)
		sampled = types.ModeDisabled
	}

	if l.machine.Current() != sampled.String() {
		if err := l.machine.Event(ctx, eventFor(sampled)); err != nil && !isNoTransition(err) {
			l.logger.Error("Mode transition failed", "to", sampled, "error", err)
		}
	}

	mode := l.Mode()
	l.scheduler.Tick(mode)
	l.handler.ModeContinuous(mode)
	l.handler.AllModesContinuous()
	l.ticks.Add(1)
}

func isNoTransition(err error) bool {
	var noTransition fsm.NoTransitionError
	return errors.As(err, &noTransition)
}

// Run ticks the lifecycle on its period until ctx is cancelled. The active mode's
// Stop hook fires on the way out and the lifecycle returns to boot.
func (l *Lifecycle) Run(ctx context.Context) error {
	if l.period <= 0 {
		return fmt.Errorf("lifecycle: period must be positive")
	}
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("lifecycle is already running")
	}
	defer l.running.Store(false)

	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Info("Lifecycle started", "period", l.period)
	for {
		select {
		case <-ctx.Done():
			if l.machine.Current() != stateBoot {
				l.handler.ModeStop(l.Mode())
				// the next Run starts from boot and fires Start again
				l.machine.SetState(stateBoot)
				l.mode.Store(int32(types.ModeDisabled))
			}
			l.logger.Info("Lifecycle stopped", "ticks", l.Ticks())
			return nil
		case <-ticker.C():
			l.Tick(ctx)
		}
	}
}
