// Package vision runs the camera target tracker on its own scheduler and exposes the latest
// reading to the control loop.
package vision

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"robot/internal/core"
	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/internal/telemetry"
	"robot/pkg/types"
)

const TaskName = "vision"

// Tracker polls the target source once per vision tick and keeps the last good reading.
// The reading is the only state shared with the main loop and is guarded by mu.
type Tracker struct {
	source hal.TargetSource
	config types.VisionConfig
	clock  clock.WithTicker
	sink   telemetry.Sink

	mu      sync.Mutex
	reading types.SensorReading

	scheduler *core.Scheduler
	logger    *logging.Logger
}

type Option func(*Tracker)

func WithClock(c clock.WithTicker) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithSink(s telemetry.Sink) Option {
	return func(t *Tracker) { t.sink = s }
}

func NewTracker(source hal.TargetSource, config types.VisionConfig, opts ...Option) *Tracker {
	t := &Tracker{
		source: source,
		config: config,
		clock:  clock.RealClock{},
		sink:   telemetry.Discard,
		logger: logging.GetLogger("vision"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.scheduler = core.NewScheduler(TaskName, config.Period, core.WithClock(t.clock))
	return t
}

// Start registers the tracker on its own scheduler and starts that loop.
func (t *Tracker) Start(ctx context.Context, modes core.ModeSource) error {
	if err := t.scheduler.RegisterTask(TaskName, t, types.AllModes); err != nil {
		return fmt.Errorf("failed to register vision task: %w", err)
	}
	if err := t.scheduler.Start(ctx, modes); err != nil {
		t.scheduler.UnregisterTask(t)
		return fmt.Errorf("failed to start vision scheduler: %w", err)
	}
	return nil
}

// Close unregisters the task and stops the vision loop. Safe to call more than once.
func (t *Tracker) Close() error {
	t.scheduler.UnregisterTask(t)
	if t.scheduler.Running() {
		return t.scheduler.Stop()
	}
	return nil
}

// Periodic polls the sensor. With no detections the previous reading is held; with one
// the reading is its x; with two or more it is the mean of the first two.
func (t *Tracker) Periodic(types.OperatingMode) {
	targets, err := t.source.PollTargets()
	if err != nil {
		t.logger.Warn("Target poll failed", "error", err)
		targets = nil
	}

	var x float64
	switch {
	case len(targets) >= 2:
		x = (targets[0].X + targets[1].X) / 2
	case len(targets) == 1:
		x = targets[0].X
	}
	now := t.clock.Now()

	t.mu.Lock()
	if len(targets) > 0 {
		t.reading = types.SensorReading{Value: x, Timestamp: now}
	}
	reading := t.reading
	t.mu.Unlock()

	fresh := reading.Fresh(now, t.config.FreshnessWindow)
	metrics.BoolGauge(metrics.VisionFresh, fresh)
	t.sink.Push("vision.detections", len(targets))
	t.sink.Push("vision.fresh", fresh)
	t.sink.Push("vision.offset", t.offsetOf(reading.Value))
}

// Reading returns a copy of the latest reading.
func (t *Tracker) Reading() types.SensorReading {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reading
}

// GetOffset is the held x coordinate normalised to the field of view and centred on zero.
func (t *Tracker) GetOffset() float64 {
	return t.offsetOf(t.Reading().Value)
}

func (t *Tracker) offsetOf(x float64) float64 {
	return x/t.config.FOVWidth - 0.5
}

// GetDataFresh reports whether the reading is younger than the freshness window.
func (t *Tracker) GetDataFresh() bool {
	return t.Reading().Fresh(t.clock.Now(), t.config.FreshnessWindow)
}

// Correction converts the current offset into a heading correction in degrees. ok is
// false when the reading is stale.
func (t *Tracker) Correction() (degrees float64, ok bool) {
	reading := t.Reading()
	if !reading.Fresh(t.clock.Now(), t.config.FreshnessWindow) {
		return 0, false
	}
	return t.offsetOf(reading.Value) * t.config.DegreesPerUnit, true
}
