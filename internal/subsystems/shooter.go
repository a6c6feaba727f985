// Package subsystems holds the robot mechanisms driven alongside the drivetrain.
package subsystems

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/telemetry"
	"robot/pkg/types"
)

const TaskName = "shooter"

type FlywheelState int

const (
	FlywheelStopped FlywheelState = iota
	FlywheelPower
	FlywheelSpeed
)

func (s FlywheelState) String() string {
	switch s {
	case FlywheelStopped:
		return "stopped"
	case FlywheelPower:
		return "power"
	case FlywheelSpeed:
		return "speed"
	default:
		return fmt.Sprintf("flywheel(%d)", int(s))
	}
}

// SequenceState is the shooting sequence the shooter runs each tick.
type SequenceState int

const (
	// SequenceIdle keeps the conveyor and agitator stopped.
	SequenceIdle SequenceState = iota
	// SequenceShooting spins up to shooting speed and feeds once on target.
	SequenceShooting
	// SequenceManual leaves every output to the caller.
	SequenceManual
)

func (s SequenceState) String() string {
	switch s {
	case SequenceIdle:
		return "idle"
	case SequenceShooting:
		return "shooting"
	case SequenceManual:
		return "manual"
	default:
		return fmt.Sprintf("sequence(%d)", int(s))
	}
}

func ParseSequenceState(s string) (SequenceState, error) {
	switch strings.ToLower(s) {
	case "idle":
		return SequenceIdle, nil
	case "shooting":
		return SequenceShooting, nil
	case "manual":
		return SequenceManual, nil
	default:
		return SequenceIdle, fmt.Errorf("unknown shooter state %q", s)
	}
}

// DriveHold stops the drivetrain while the shooter feeds.
type DriveHold interface {
	ArcadeDrive(throttle, turn float64)
}

type Shooter struct {
	mu sync.Mutex

	hw     hal.Flywheel
	config types.ShooterConfig
	drive  DriveHold
	sink   telemetry.Sink

	flywheel FlywheelState
	power    float64
	setpoint float64
	sequence SequenceState
	conveyor float64
	agitator float64
	settled  int
	onTarget bool

	logger *logging.Logger
}

type Option func(*Shooter)

func WithDriveHold(d DriveHold) Option {
	return func(s *Shooter) { s.drive = d }
}

func WithSink(sink telemetry.Sink) Option {
	return func(s *Shooter) { s.sink = sink }
}

func NewShooter(hw hal.Flywheel, config types.ShooterConfig, opts ...Option) *Shooter {
	s := &Shooter{
		hw:     hw,
		config: config,
		sink:   telemetry.Discard,
		logger: logging.GetLogger("shooter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFlywheelPower runs the flywheel open loop at power in [-1, 1].
func (s *Shooter) SetFlywheelPower(power float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flywheel = FlywheelPower
	s.power = math.Max(-1, math.Min(1, power))
	s.resetOnTargetLocked()
}

// SetFlywheelSpeed runs the flywheel closed loop at rpm.
func (s *Shooter) SetFlywheelSpeed(rpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSpeedLocked(rpm)
}

func (s *Shooter) setSpeedLocked(rpm float64) {
	if s.flywheel == FlywheelSpeed && s.setpoint == rpm {
		return
	}
	s.flywheel = FlywheelSpeed
	s.setpoint = rpm
	s.resetOnTargetLocked()
}

func (s *Shooter) SetFlywheelStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flywheel = FlywheelStopped
	s.power = 0
	s.setpoint = 0
	s.resetOnTargetLocked()
}

func (s *Shooter) resetOnTargetLocked() {
	s.settled = 0
	s.onTarget = false
}

func (s *Shooter) FlywheelRate() float64 {
	return s.hw.FlywheelRate()
}

// OnTarget reports whether the flywheel has held its speed setpoint for the debounce
// window. Always false unless running closed loop.
func (s *Shooter) OnTarget() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flywheel == FlywheelSpeed && s.onTarget
}

func (s *Shooter) StartConveyor(power float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conveyor = power
}

func (s *Shooter) StopConveyor() { s.StartConveyor(0) }

func (s *Shooter) StartAgitator(power float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agitator = power
}

func (s *Shooter) StopAgitator() { s.StartAgitator(0) }

func (s *Shooter) SetSequenceState(state SequenceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequence != state {
		s.logger.Info("Shooter state changed", "from", s.sequence, "to", state)
	}
	s.sequence = state
}

func (s *Shooter) SequenceState() SequenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Periodic runs the shooting sequence and writes the mechanism outputs.
func (s *Shooter) Periodic(mode types.OperatingMode) {
	s.mu.Lock()

	if mode == types.ModeDisabled {
		s.mu.Unlock()
		s.hw.SetFlywheelPower(0)
		s.hw.SetConveyorPower(0)
		s.hw.SetAgitatorPower(0)
		return
	}

	rate := s.hw.FlywheelRate()
	if s.flywheel == FlywheelSpeed && math.Abs(rate-s.setpoint) < s.config.SpeedTolerance {
		if s.settled < s.config.OnTargetWindow {
			s.settled++
		}
		s.onTarget = s.settled >= s.config.OnTargetWindow
	} else {
		s.resetOnTargetLocked()
	}

	holdDrive := false
	switch s.sequence {
	case SequenceIdle:
		s.conveyor, s.agitator = 0, 0
	case SequenceShooting:
		s.setSpeedLocked(s.config.ShootingSpeed)
		if s.onTarget {
			holdDrive = true
			s.conveyor, s.agitator = 1, 1
		}
	case SequenceManual:
	}

	flywheel, power, setpoint := s.flywheel, s.power, s.setpoint
	conveyor, agitator, onTarget := s.conveyor, s.agitator, s.onTarget
	sequence := s.sequence
	s.mu.Unlock()

	switch flywheel {
	case FlywheelStopped:
		s.hw.SetFlywheelPower(0)
	case FlywheelPower:
		s.hw.SetFlywheelPower(power)
	case FlywheelSpeed:
		s.hw.SetFlywheelSpeed(setpoint)
	}
	s.hw.SetConveyorPower(conveyor)
	s.hw.SetAgitatorPower(agitator)

	if holdDrive && s.drive != nil {
		s.drive.ArcadeDrive(0, 0)
	}

	s.sink.Push("shooter.rate", rate)
	s.sink.Push("shooter.setpoint", setpoint)
	s.sink.Push("shooter.flywheel", flywheel.String())
	s.sink.Push("shooter.sequence", sequence.String())
	s.sink.Push("shooter.on_target", onTarget)
}
