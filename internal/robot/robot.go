// Package robot assembles the controller: it opens the hardware, registers the periodic
// tasks, reacts to lifecycle hooks and supervises every loop of the process.
package robot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"robot/internal/auto"
	"robot/internal/core"
	"robot/internal/drive"
	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/internal/subsystems"
	"robot/internal/telemetry"
	"robot/internal/vision"
	"robot/pkg/types"
)

// Robot owns every component of one controller process.
type Robot struct {
	config types.SystemConfig
	clock  clock.WithTicker

	hw      *hal.Hardware
	ownHW   bool
	table   *telemetry.Table
	sched   *core.Scheduler
	life    *core.Lifecycle
	drive   *drive.Controller
	shooter *subsystems.Shooter
	vision  *vision.Tracker

	selector core.ModeSelector
	manual   *hal.ManualModeSelector
	operator *Operator

	mu         sync.Mutex
	autonomous types.AutonomousConfig
	routine    *auto.Sequencer

	started time.Time
	logger  *logging.Logger
}

type Option func(*Robot)

// WithClock drives every loop and timeout from c.
func WithClock(c clock.WithTicker) Option {
	return func(r *Robot) { r.clock = c }
}

// WithHardware uses hw instead of opening the configured backend. The caller keeps
// ownership and closes it.
func WithHardware(hw *hal.Hardware) Option {
	return func(r *Robot) { r.hw = hw }
}

// WithSelector replaces the configured mode source.
func WithSelector(s core.ModeSelector) Option {
	return func(r *Robot) { r.selector = s }
}

// New builds the robot from a validated configuration.
func New(ctx context.Context, config types.SystemConfig, opts ...Option) (*Robot, error) {
	r := &Robot{
		config:     config,
		clock:      clock.RealClock{},
		table:      telemetry.NewTable(),
		autonomous: config.Autonomous,
		logger:     logging.GetLogger("robot"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.operator = NewOperator(r.clock)

	if r.hw == nil {
		hw, err := hal.Open(ctx, config.Hardware)
		if err != nil {
			return nil, fmt.Errorf("failed to open hardware: %w", err)
		}
		r.hw = hw
		r.ownHW = true
	}

	if r.selector == nil {
		selector, manual, err := r.buildSelector()
		if err != nil {
			r.closeHardware()
			return nil, err
		}
		r.selector, r.manual = selector, manual
	}

	r.drive = drive.NewController(r.hw.Drive, r.hw.Gyro, config.Drive,
		drive.WithClock(r.clock), drive.WithSink(r.table))
	if config.Shooter.Enabled && r.hw.Flywheel != nil {
		r.shooter = subsystems.NewShooter(r.hw.Flywheel, config.Shooter,
			subsystems.WithDriveHold(r.drive), subsystems.WithSink(r.table))
	}
	r.vision = vision.NewTracker(r.hw.Camera, config.Vision,
		vision.WithClock(r.clock), vision.WithSink(r.table))

	r.sched = core.NewScheduler("main", config.LoopPeriod, core.WithClock(r.clock))
	if err := r.registerTasks(); err != nil {
		r.closeHardware()
		return nil, err
	}
	r.life = core.NewLifecycle(r.selector, r.sched, r, config.LoopPeriod, core.WithLifecycleClock(r.clock))
	r.started = r.clock.Now()
	return r, nil
}

func (r *Robot) buildSelector() (core.ModeSelector, *hal.ManualModeSelector, error) {
	initial, err := types.ParseMode(r.config.ModeSelect.Initial)
	if err != nil {
		initial = types.ModeDisabled
	}

	switch strings.ToLower(r.config.ModeSelect.Source) {
	case "", "manual":
		m := hal.NewManualModeSelector(initial)
		return m, m, nil
	case "mqtt":
		if !r.config.Telemetry.MQTT.Enabled {
			return nil, nil, errors.New("mode_select.source mqtt needs telemetry.mqtt.enabled")
		}
		m := hal.NewManualModeSelector(initial)
		return m, m, nil
	case "script":
		script, err := hal.ParseMatchScript(r.config.ModeSelect.Script, r.clock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse match script: %w", err)
		}
		return script, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported mode source: %s", r.config.ModeSelect.Source)
	}
}

// registerTasks puts the simulation step first so every task sees fresh sensor values.
func (r *Robot) registerTasks() error {
	if r.hw.Simulated() {
		period := r.config.LoopPeriod
		step := core.TaskFunc(func(types.OperatingMode) { r.hw.Step(period) })
		if err := r.sched.RegisterTask("sim", step, types.AllModes); err != nil {
			return fmt.Errorf("failed to register sim task: %w", err)
		}
	}
	if err := r.sched.RegisterTask("drive", r.drive, types.AllModes); err != nil {
		return fmt.Errorf("failed to register drive task: %w", err)
	}
	if r.shooter != nil {
		if err := r.sched.RegisterTask(subsystems.TaskName, r.shooter, types.AllModes); err != nil {
			return fmt.Errorf("failed to register shooter task: %w", err)
		}
	}
	return nil
}

// ModeStart is called once when mode becomes active.
func (r *Robot) ModeStart(mode types.OperatingMode) {
	r.table.Push("robot.mode", mode.String())
	switch mode {
	case types.ModeAutonomous:
		r.startRoutine()
	case types.ModeTeleop:
		r.drive.Stop()
		r.operator.Reset()
	default:
		r.drive.Stop()
	}
}

// ModeStop is called once when mode stops being active.
func (r *Robot) ModeStop(mode types.OperatingMode) {
	if mode == types.ModeAutonomous {
		r.mu.Lock()
		if r.routine != nil {
			r.routine.Halt()
			r.routine = nil
		}
		r.mu.Unlock()
	}
	r.drive.Stop()
	if r.shooter != nil {
		r.shooter.SetSequenceState(subsystems.SequenceIdle)
		r.shooter.SetFlywheelStop()
	}
}

// ModeContinuous is called every tick after the scheduler tick.
func (r *Robot) ModeContinuous(mode types.OperatingMode) {
	switch mode {
	case types.ModeAutonomous:
		r.mu.Lock()
		routine := r.routine
		r.mu.Unlock()
		if routine != nil {
			routine.Tick()
		}
	case types.ModeTeleop:
		stick := r.operator.Stick()
		r.drive.ArcadeDrive(stick.Throttle, stick.Turn)
	}
}

// AllModesContinuous publishes the housekeeping cells.
func (r *Robot) AllModesContinuous() {
	r.table.Push("robot.time", r.clock.Since(r.started).Seconds())
}

func (r *Robot) startRoutine() {
	r.mu.Lock()
	defer r.mu.Unlock()

	config := r.autonomous
	if config.Routine == "" {
		r.logger.Warn("No autonomous routine selected")
		r.drive.Stop()
		return
	}

	env := auto.Env{Drive: r.drive, Vision: r.vision}
	if r.shooter != nil {
		env.Shooter = r.shooter
	}
	routine, err := auto.Load(config.Routine, config, env,
		auto.WithClock(r.clock), auto.WithSink(r.table), auto.WithFinish(r.drive.Stop))
	if err != nil {
		r.logger.Error("Failed to load autonomous routine", "routine", config.Routine, "error", err)
		r.drive.Stop()
		return
	}
	r.routine = routine
	routine.Start()
}

// UpdateConfig applies the parts of a reloaded configuration that can change at runtime:
// logging level, drive gains and tolerances, and the routine tables. A running routine
// keeps its table; the new one is used at the next autonomous start.
func (r *Robot) UpdateConfig(config types.SystemConfig) {
	r.drive.UpdateConfig(config.Drive)

	r.mu.Lock()
	r.autonomous = config.Autonomous
	r.mu.Unlock()

	if err := logging.GetManager().UpdateConfig(&logging.Config{Level: config.Logging.Level}); err != nil {
		r.logger.Warn("Failed to update logging level", "error", err)
	}
	r.logger.Info("Runtime configuration updated", "routine", config.Autonomous.Routine)
}

// Run starts the vision loop and the main lifecycle loop plus the metrics endpoint and the
// MQTT link when configured, and blocks until ctx is cancelled or one of them fails.
func (r *Robot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// nothing is running yet if the broker setup fails
	var publisher *telemetry.Publisher
	if r.config.Telemetry.MQTT.Enabled {
		client, err := r.connectMQTT(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			client.Disconnect(shutdown)
		}()
		publisher = telemetry.NewPublisher(r.table, client, client.Topic("telemetry"), r.config.Telemetry.PublishRate)
	}

	if err := r.vision.Start(ctx, r.life); err != nil {
		return err
	}
	defer r.vision.Close()

	g.Go(func() error {
		return r.life.Run(ctx)
	})
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(ctx)
		})
	}
	if addr := r.config.Telemetry.MetricsAddr; addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, addr, r.logger)
		})
	}

	r.logger.Info("Robot running", "period", r.config.LoopPeriod, "tasks", r.sched.TaskNames())
	return g.Wait()
}

// connectMQTT registers the operator topics and starts the broker connection.
func (r *Robot) connectMQTT(ctx context.Context) (*telemetry.MQTTClient, error) {
	client, err := telemetry.NewMQTTClient(r.config.Telemetry.MQTT)
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt client: %w", err)
	}

	if r.manual != nil && strings.EqualFold(r.config.ModeSelect.Source, "mqtt") {
		if err := client.Subscribe(ctx, client.Topic(r.config.ModeSelect.Topic), telemetry.ModeHandler(r.manual)); err != nil {
			return nil, fmt.Errorf("failed to subscribe to mode topic: %w", err)
		}
	}
	if err := client.Subscribe(ctx, client.Topic("drive"), telemetry.DriveHandler(r.operator)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to drive topic: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Close releases hardware opened by New.
func (r *Robot) Close() error {
	r.vision.Close()
	return r.closeHardware()
}

func (r *Robot) closeHardware() error {
	if !r.ownHW || r.hw == nil {
		return nil
	}
	r.ownHW = false
	return r.hw.Close()
}

func (r *Robot) Mode() types.OperatingMode { return r.life.Mode() }

func (r *Robot) Lifecycle() *core.Lifecycle { return r.life }

func (r *Robot) Drive() *drive.Controller { return r.drive }

func (r *Robot) Shooter() *subsystems.Shooter { return r.shooter }

func (r *Robot) Vision() *vision.Tracker { return r.vision }

func (r *Robot) Telemetry() *telemetry.Table { return r.table }

func (r *Robot) Hardware() *hal.Hardware { return r.hw }

func (r *Robot) Operator() *Operator { return r.operator }

// ManualSelector is nil when the mode comes from a match script or WithSelector.
func (r *Robot) ManualSelector() *hal.ManualModeSelector { return r.manual }

// Routine returns the routine of the current autonomous period, if any.
func (r *Robot) Routine() *auto.Sequencer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routine
}
