// Package drive implements the differential drive motion controller: closed-loop distance
// and turn primitives with debounced convergence, and an open-loop arcade override.
package drive

import (
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/internal/telemetry"
	"robot/pkg/types"
)

type loopState int

const (
	loopIdle loopState = iota
	loopOpen
	loopClosed
)

// Controller is the drive motion controller. It is registered with the main scheduler
// and recomputes its outputs once per tick; commands only replace its targets.
type Controller struct {
	mu sync.Mutex

	actuator hal.DriveActuator
	gyro     hal.Gyro
	config   types.DriveConfig
	clock    clock.PassiveClock
	sink     telemetry.Sink

	distPID  *PID
	anglePID *PID

	state       loopState
	command     types.DriveCommand
	generation  uint64
	controlMode types.ControlMode
	modeSet     bool

	// open loop outputs
	left, right float64

	// closed loop targets, in absolute sensor units
	distTarget  float64
	angleTarget float64
	hasTarget   bool
	maxPower    float64

	distTol    float64
	angleTol   float64
	distDeb    debouncer
	angleDeb   debouncer
	onTarget   bool
	lastUpdate time.Time

	logger *logging.Logger
}

type Option func(*Controller)

func WithClock(c clock.PassiveClock) Option {
	return func(d *Controller) { d.clock = c }
}

func WithSink(s telemetry.Sink) Option {
	return func(d *Controller) { d.sink = s }
}

func NewController(actuator hal.DriveActuator, gyro hal.Gyro, config types.DriveConfig, opts ...Option) *Controller {
	d := &Controller{
		actuator: actuator,
		gyro:     gyro,
		config:   config,
		clock:    clock.RealClock{},
		sink:     telemetry.Discard,
		distPID:  NewPID(config.Distance),
		anglePID: NewPID(config.Angle),
		logger:   logging.GetLogger("drive"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MotionConfig adjusts the convergence tolerances of the command that returned it.
// Calls on a handle whose command has been replaced have no effect.
type MotionConfig struct {
	c   *Controller
	gen uint64
}

// SetDistTolerance sets the distance tolerance and the number of consecutive ticks the
// error must stay inside it.
func (m *MotionConfig) SetDistTolerance(value float64, window int) *MotionConfig {
	if m != nil && m.c != nil {
		m.c.setTolerance(m.gen, &value, &window, nil, nil)
	}
	return m
}

// SetAngleTolerance sets the heading tolerance (degrees) and its debounce window.
func (m *MotionConfig) SetAngleTolerance(value float64, window int) *MotionConfig {
	if m != nil && m.c != nil {
		m.c.setTolerance(m.gen, nil, nil, &value, &window)
	}
	return m
}

// PIDDrive drives distance along heading, both measured against frame.
func (d *Controller) PIDDrive(distance, heading float64, frame types.ReferenceFrame, maxPower float64) *MotionConfig {
	return d.Issue(types.PIDDriveCommand(distance, heading, frame, maxPower))
}

// PIDTurn turns to angle measured against frame while holding position.
func (d *Controller) PIDTurn(angle float64, frame types.ReferenceFrame, maxPower float64) *MotionConfig {
	return d.Issue(types.PIDTurnCommand(angle, frame, maxPower))
}

// ArcadeDrive switches to open loop with the mixed throttle/turn outputs.
func (d *Controller) ArcadeDrive(throttle, turn float64) {
	d.Issue(types.ArcadeCommand(throttle, turn))
}

// Stop switches to open loop with zero output.
func (d *Controller) Stop() {
	d.Issue(types.StopCommand())
}

// Issue replaces the active command. Invalid commands are logged and ignored.
func (d *Controller) Issue(cmd types.DriveCommand) *MotionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !finiteCommand(cmd) {
		d.logger.Warn("Ignoring drive command with non-finite parameters", "kind", cmd.Kind,
			"throttle", cmd.Throttle, "turn", cmd.Turn, "distance", cmd.Distance, "heading", cmd.Heading, "angle", cmd.Angle)
		return &MotionConfig{}
	}

	switch cmd.Kind {
	case types.DriveStop:
		d.beginLocked(cmd, loopOpen)
		d.left, d.right = 0, 0

	case types.DriveArcade:
		d.beginLocked(cmd, loopOpen)
		d.left, d.right = ArcadeMix(cmd.Throttle, cmd.Turn)

	case types.DrivePID, types.DriveTurn:
		if !cmd.Frame.Valid() {
			d.logger.Warn("Ignoring drive command with invalid frame", "kind", cmd.Kind, "frame", cmd.Frame)
			return &MotionConfig{}
		}
		d.beginLocked(cmd, loopClosed)
		d.setTargetsLocked(cmd)
		d.maxPower = d.clampPower(cmd.MaxPower)
		d.distPID.Reset()
		d.anglePID.Reset()
		d.lastUpdate = time.Time{}
		if cmd.Tolerance != nil {
			t := cmd.Tolerance
			d.applyToleranceLocked(t.DistTolerance, t.DistWindow, t.AngleTolerance, t.AngleWindow)
		}
		d.logger.Debug("Closed loop command",
			"kind", cmd.Kind, "frame", cmd.Frame, "dist_target", d.distTarget, "angle_target", d.angleTarget, "max_power", d.maxPower)

	default:
		d.logger.Warn("Ignoring unknown drive command", "kind", cmd.Kind)
		return &MotionConfig{}
	}

	return &MotionConfig{c: d, gen: d.generation}
}

// finiteCommand reports whether the fields cmd.Kind reads are usable. Arcade inputs
// saturate, so only NaN is rejected there.
func finiteCommand(cmd types.DriveCommand) bool {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch cmd.Kind {
	case types.DriveArcade:
		return !math.IsNaN(cmd.Throttle) && !math.IsNaN(cmd.Turn)
	case types.DrivePID:
		return finite(cmd.Distance) && finite(cmd.Heading)
	case types.DriveTurn:
		return finite(cmd.Angle)
	}
	return true
}

// beginLocked installs cmd as the active command and resets convergence state.
func (d *Controller) beginLocked(cmd types.DriveCommand, state loopState) {
	d.generation++
	d.command = cmd
	d.state = state
	d.onTarget = false
	d.distTol = d.config.DistTolerance
	d.angleTol = d.config.AngleTolerance
	d.distDeb.reset(d.config.DistWindow)
	d.angleDeb.reset(d.config.AngleWindow)
}

func (d *Controller) setTargetsLocked(cmd types.DriveCommand) {
	dist := d.distanceLocked()
	angle := d.gyro.Angle()

	var distBase, angleBase float64
	switch cmd.Frame {
	case types.FrameNow:
		distBase, angleBase = dist, angle
	case types.FrameSetPoint:
		if d.hasTarget {
			distBase, angleBase = d.distTarget, d.angleTarget
		} else {
			distBase, angleBase = dist, angle
		}
	case types.FrameAbsolute:
		distBase, angleBase = 0, 0
	}

	switch cmd.Kind {
	case types.DrivePID:
		d.distTarget = distBase + cmd.Distance
		d.angleTarget = angleBase + cmd.Heading
	case types.DriveTurn:
		// hold position: the setpoint chain keeps the previous distance target
		if cmd.Frame == types.FrameSetPoint && d.hasTarget {
			d.distTarget = distBase
		} else {
			d.distTarget = dist
		}
		d.angleTarget = angleBase + cmd.Angle
	}
	d.hasTarget = true
}

func (d *Controller) clampPower(p float64) float64 {
	if p <= 0 || math.IsNaN(p) {
		if p < 0 {
			d.logger.Warn("Negative max power clamped", "max_power", p)
		}
		p = d.config.DefaultMaxPower
		if p <= 0 {
			p = 1
		}
	}
	return clamp(p, 0, 1)
}

func (d *Controller) setTolerance(gen uint64, distTol *float64, distWin *int, angleTol *float64, angleWin *int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation || d.state != loopClosed {
		return
	}
	d.applyToleranceLocked(distTol, distWin, angleTol, angleWin)
}

func (d *Controller) applyToleranceLocked(distTol *float64, distWin *int, angleTol *float64, angleWin *int) {
	if distTol != nil {
		d.distTol = math.Abs(*distTol)
	}
	if distWin != nil {
		d.distDeb.reset(*distWin)
	} else {
		d.distDeb.reset(d.distDeb.window)
	}
	if angleTol != nil {
		d.angleTol = math.Abs(*angleTol)
	}
	if angleWin != nil {
		d.angleDeb.reset(*angleWin)
	} else {
		d.angleDeb.reset(d.angleDeb.window)
	}
	d.onTarget = false
}

// OnTarget reports whether the active closed-loop command has held both tolerances for
// its debounce windows. Always false under open loop.
func (d *Controller) OnTarget() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == loopClosed && d.onTarget
}

func (d *Controller) GetAngle() float64 {
	return d.gyro.Angle()
}

// GetDistance is the mean of both encoder distances.
func (d *Controller) GetDistance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.distanceLocked()
}

func (d *Controller) distanceLocked() float64 {
	return (d.actuator.LeftDistance() + d.actuator.RightDistance()) / 2
}

// Command returns the active command.
func (d *Controller) Command() types.DriveCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command
}

// Targets returns the absolute distance and angle targets of the last closed-loop command.
func (d *Controller) Targets() (distance, angle float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.distTarget, d.angleTarget, d.hasTarget
}

// UpdateConfig swaps gains and default tolerances; the active command keeps its overrides.
func (d *Controller) UpdateConfig(config types.DriveConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = config
	d.distPID.SetGains(config.Distance)
	d.anglePID.SetGains(config.Angle)
}

// Periodic computes and writes the drive outputs for this tick.
func (d *Controller) Periodic(mode types.OperatingMode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	dt := 0.0
	if !d.lastUpdate.IsZero() {
		dt = now.Sub(d.lastUpdate).Seconds()
	}
	d.lastUpdate = now

	var left, right float64
	switch {
	case mode == types.ModeDisabled:
		d.setControlModeLocked(types.ControlOpenLoop)
	case d.state == loopClosed:
		left, right = d.closedLoopLocked(dt)
		d.setControlModeLocked(types.ControlClosedLoopVelocity)
	case d.state == loopOpen:
		left, right = d.left, d.right
		d.setControlModeLocked(types.ControlOpenLoop)
	default:
		d.setControlModeLocked(types.ControlOpenLoop)
	}
	d.actuator.SetDriveOutput(left, right)

	metrics.BoolGauge(metrics.DriveOnTarget, d.state == loopClosed && d.onTarget)
	d.sink.Push("drive.left", left)
	d.sink.Push("drive.right", right)
	d.sink.Push("drive.distance", d.distanceLocked())
	d.sink.Push("drive.angle", d.gyro.Angle())
	d.sink.Push("drive.command", d.command.Kind.String())
	d.sink.Push("drive.on_target", d.state == loopClosed && d.onTarget)
}

func (d *Controller) closedLoopLocked(dt float64) (float64, float64) {
	distErr := d.distTarget - d.distanceLocked()
	angleErr := d.angleTarget - d.gyro.Angle()

	throttle := d.distPID.Update(distErr, dt)
	turn := d.anglePID.Update(angleErr, dt)

	distOK := d.distDeb.sample(math.Abs(distErr) < d.distTol)
	angleOK := d.angleDeb.sample(math.Abs(angleErr) < d.angleTol)
	d.onTarget = distOK && angleOK

	return normalize(throttle-turn, throttle+turn, d.maxPower)
}

func (d *Controller) setControlModeLocked(mode types.ControlMode) {
	if d.modeSet && d.controlMode == mode {
		return
	}
	d.actuator.SetDriveControlMode(mode)
	d.controlMode = mode
	d.modeSet = true
}
