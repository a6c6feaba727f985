// Package types defines the fundamental data structures shared by the robot controller:
// operating modes and their activation masks, drive commands and reference frames, sensor
// readings, and the YAML-backed system configuration that wires every component together.
package types

import (
	"fmt"
	"strings"
	"time"
)

type OperatingMode int

const (
	ModeDisabled OperatingMode = iota
	ModeAutonomous
	ModeTeleop
	ModeTest
)

// Modes lists every operating mode in declaration order.
var Modes = []OperatingMode{ModeDisabled, ModeAutonomous, ModeTeleop, ModeTest}

func (m OperatingMode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeAutonomous:
		return "autonomous"
	case ModeTeleop:
		return "teleop"
	case ModeTest:
		return "test"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m OperatingMode) Valid() bool {
	return m >= ModeDisabled && m <= ModeTest
}

// ParseMode maps a mode name back to its OperatingMode.
func ParseMode(s string) (OperatingMode, error) {
	for _, m := range Modes {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return ModeDisabled, fmt.Errorf("unknown operating mode %q", s)
}

// ModeMask selects the operating modes a task runs in.
type ModeMask uint8

const AllModes ModeMask = 1<<ModeDisabled | 1<<ModeAutonomous | 1<<ModeTeleop | 1<<ModeTest

func MaskOf(modes ...OperatingMode) ModeMask {
	var mask ModeMask
	for _, m := range modes {
		if m.Valid() {
			mask |= 1 << m
		}
	}
	return mask
}

func (mm ModeMask) Has(m OperatingMode) bool {
	return m.Valid() && mm&(1<<m) != 0
}

type ReferenceFrame int

const (
	// FrameNow measures the target from the pose at the moment the command is issued.
	FrameNow ReferenceFrame = iota
	// FrameSetPoint measures the target from the previously commanded target.
	FrameSetPoint
	// FrameAbsolute measures the target from the field/gyro zero.
	FrameAbsolute
)

func (f ReferenceFrame) String() string {
	switch f {
	case FrameNow:
		return "now"
	case FrameSetPoint:
		return "setpoint"
	case FrameAbsolute:
		return "absolute"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

func (f ReferenceFrame) Valid() bool {
	return f >= FrameNow && f <= FrameAbsolute
}

func ParseFrame(s string) (ReferenceFrame, error) {
	switch strings.ToLower(s) {
	case "now", "":
		return FrameNow, nil
	case "setpoint", "set_point":
		return FrameSetPoint, nil
	case "absolute":
		return FrameAbsolute, nil
	default:
		return FrameNow, fmt.Errorf("unknown reference frame %q", s)
	}
}

// ControlMode is the motor controller mode requested from the drive actuator.
type ControlMode int

const (
	ControlOpenLoop ControlMode = iota
	ControlClosedLoopVelocity
)

type DriveCommandKind int

const (
	DriveStop DriveCommandKind = iota
	DriveArcade
	DrivePID
	DriveTurn
)

func (k DriveCommandKind) String() string {
	switch k {
	case DriveStop:
		return "stop"
	case DriveArcade:
		return "arcade"
	case DrivePID:
		return "pid_drive"
	case DriveTurn:
		return "pid_turn"
	default:
		return fmt.Sprintf("drive_command(%d)", int(k))
	}
}

// ToleranceOverride replaces the controller's convergence defaults for one command.
// Nil fields keep the default.
type ToleranceOverride struct {
	DistTolerance  *float64
	DistWindow     *int
	AngleTolerance *float64
	AngleWindow    *int
}

// DriveCommand is the tagged variant accepted by the drive controller. Only the fields
// relevant to Kind are read.
type DriveCommand struct {
	Kind DriveCommandKind

	// Arcade
	Throttle float64
	Turn     float64

	// PIDDrive / PIDTurn
	Distance float64
	Heading  float64
	Angle    float64
	Frame    ReferenceFrame
	MaxPower float64

	Tolerance *ToleranceOverride
}

func StopCommand() DriveCommand {
	return DriveCommand{Kind: DriveStop}
}

func ArcadeCommand(throttle, turn float64) DriveCommand {
	return DriveCommand{Kind: DriveArcade, Throttle: throttle, Turn: turn}
}

func PIDDriveCommand(distance, heading float64, frame ReferenceFrame, maxPower float64) DriveCommand {
	return DriveCommand{Kind: DrivePID, Distance: distance, Heading: heading, Frame: frame, MaxPower: maxPower}
}

func PIDTurnCommand(angle float64, frame ReferenceFrame, maxPower float64) DriveCommand {
	return DriveCommand{Kind: DriveTurn, Angle: angle, Frame: frame, MaxPower: maxPower}
}

// Target is one detection reported by the vision sensor.
type Target struct {
	X float64
	Y float64
}

// SensorReading is the latest value produced by a background sensor task.
type SensorReading struct {
	Value     float64
	Timestamp time.Time
}

// Fresh reports whether the reading is younger than window at now.
// A reading that was never written is never fresh.
func (r SensorReading) Fresh(now time.Time, window time.Duration) bool {
	if r.Timestamp.IsZero() {
		return false
	}
	return now.Sub(r.Timestamp) < window
}
