package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"robot/pkg/types"
)

type fakeSelector struct {
	mu   sync.Mutex
	mode types.OperatingMode
}

func (f *fakeSelector) SampleMode() types.OperatingMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeSelector) set(m types.OperatingMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingHandler) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingHandler) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingHandler) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingHandler) ModeStart(m types.OperatingMode)      { r.add("start:" + m.String()) }
func (r *recordingHandler) ModeStop(m types.OperatingMode)       { r.add("stop:" + m.String()) }
func (r *recordingHandler) ModeContinuous(m types.OperatingMode) { r.add("continuous:" + m.String()) }
func (r *recordingHandler) AllModesContinuous()                  { r.add("all") }

func newTestLifecycle(sel *fakeSelector, h *recordingHandler, opts ...LifecycleOption) (*Lifecycle, *Scheduler) {
	s := NewScheduler("main", 20*time.Millisecond)
	_ = s.RegisterTask("recorder", TaskFunc(func(m types.OperatingMode) {
		h.add(fmt.Sprintf("task:%s", m))
	}), types.AllModes)
	return NewLifecycle(sel, s, h, 20*time.Millisecond, opts...), s
}

func TestLifecycleFirstTickEntersSampledMode(t *testing.T) {
	sel := &fakeSelector{mode: types.ModeDisabled}
	h := &recordingHandler{}
	l, _ := newTestLifecycle(sel, h)

	assert.Equal(t, types.ModeDisabled, l.Mode())
	l.Tick(context.Background())

	assert.Equal(t, []string{"start:disabled", "task:disabled", "continuous:disabled", "all"}, h.snapshot())
}

func TestLifecycleHooksOncePerTransition(t *testing.T) {
	sel := &fakeSelector{mode: types.ModeDisabled}
	h := &recordingHandler{}
	l, _ := newTestLifecycle(sel, h)
	ctx := context.Background()

	l.Tick(ctx)
	h.reset()

	sel.set(types.ModeAutonomous)
	l.Tick(ctx)
	l.Tick(ctx)
	l.Tick(ctx)

	assert.Equal(t, []string{
		"stop:disabled", "start:autonomous", "task:autonomous", "continuous:autonomous", "all",
		"task:autonomous", "continuous:autonomous", "all",
		"task:autonomous", "continuous:autonomous", "all",
	}, h.snapshot())
	assert.Equal(t, types.ModeAutonomous, l.Mode())

	h.reset()
	sel.set(types.ModeTeleop)
	l.Tick(ctx)
	assert.Equal(t, []string{"stop:autonomous", "start:teleop", "task:teleop", "continuous:teleop", "all"}, h.snapshot())
	assert.Equal(t, uint64(5), l.Ticks())
}

func TestLifecycleInvalidModeHoldsDisabled(t *testing.T) {
	sel := &fakeSelector{mode: types.OperatingMode(42)}
	h := &recordingHandler{}
	l, _ := newTestLifecycle(sel, h)

	l.Tick(context.Background())
	assert.Equal(t, types.ModeDisabled, l.Mode())
	assert.Equal(t, "start:disabled", h.snapshot()[0])
}

func TestLifecycleRunStopsActiveMode(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Now())
	sel := &fakeSelector{mode: types.ModeTeleop}
	h := &recordingHandler{}
	l, _ := newTestLifecycle(sel, h, WithLifecycleClock(fakeClock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(20 * time.Millisecond)
	require.Eventually(t, func() bool { return l.Ticks() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events := h.snapshot()
	assert.Equal(t, "start:teleop", events[0])
	assert.Equal(t, "stop:teleop", events[len(events)-1])
}

func TestLifecycleRunAgainRestartsMode(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Now())
	sel := &fakeSelector{mode: types.ModeAutonomous}
	h := &recordingHandler{}
	l, _ := newTestLifecycle(sel, h, WithLifecycleClock(fakeClock))

	runOnce := func(want uint64) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Run(ctx) }()

		require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
		fakeClock.Step(20 * time.Millisecond)
		require.Eventually(t, func() bool { return l.Ticks() == want }, time.Second, time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	}

	runOnce(1)
	assert.Equal(t, types.ModeDisabled, l.Mode())
	runOnce(2)

	var starts, stops int
	for _, e := range h.snapshot() {
		switch e {
		case "start:autonomous":
			starts++
		case "stop:autonomous":
			stops++
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
}
