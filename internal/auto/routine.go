package auto

import (
	"fmt"
	"math"
	"strings"

	"robot/internal/drive"
	"robot/internal/logging"
	"robot/internal/subsystems"
	"robot/pkg/types"
)

// Drive is the part of the drive controller routines command.
type Drive interface {
	Issue(cmd types.DriveCommand) *drive.MotionConfig
	OnTarget() bool
	GetAngle() float64
}

type Shooter interface {
	SetFlywheelSpeed(rpm float64)
	SetFlywheelStop()
	OnTarget() bool
	SetSequenceState(state subsystems.SequenceState)
	StartConveyor(power float64)
	StartAgitator(power float64)
}

type Vision interface {
	GetDataFresh() bool
	Correction() (degrees float64, ok bool)
}

// Env is what a routine's actions and exit conditions act on. Shooter and Vision may be
// nil when the robot has no such mechanism; routines using them then fail to build.
type Env struct {
	Drive   Drive
	Shooter Shooter
	Vision  Vision
	// Mirror flips every turn for the other side of the field.
	Mirror bool
}

// Build turns a routine table into sequencer steps.
func Build(config types.RoutineConfig, env Env) ([]Step, error) {
	if env.Drive == nil {
		return nil, fmt.Errorf("%w: routine needs a drive", ErrInvalidStep)
	}
	if len(config.Steps) == 0 {
		return nil, fmt.Errorf("%w: routine has no steps", ErrInvalidStep)
	}

	logger := logging.GetLogger("auto")
	steps := make([]Step, 0, len(config.Steps))
	for i, sc := range config.Steps {
		enter, err := buildActions(sc.Actions, env, logger)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, sc.Name, err)
		}
		cond, err := buildCondition(sc.Exit.Conditions, env)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, sc.Name, err)
		}

		next := i + 1
		if next >= len(config.Steps) {
			next = End
		}
		if sc.Next != nil {
			next = *sc.Next
		}

		step := Step{
			Name:        sc.Name,
			Enter:       enter,
			Condition:   cond,
			Timeout:     sc.Exit.Timeout,
			Next:        next,
			OnTimeout:   sc.OnTimeout,
			OnExhausted: sc.OnExhausted,
		}
		if sc.RetryBudget != nil {
			step.RetryBudget = *sc.RetryBudget
		}
		if step.Name == "" {
			step.Name = fmt.Sprintf("step%d", i)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildActions(actions []types.ActionConfig, env Env, logger *logging.Logger) (func(), error) {
	fns := make([]func(), 0, len(actions))
	for _, ac := range actions {
		fn, err := buildAction(ac, env, logger)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		return nil, nil
	}
	return func() {
		for _, fn := range fns {
			fn()
		}
	}, nil
}

func buildAction(ac types.ActionConfig, env Env, logger *logging.Logger) (func(), error) {
	sign := 1.0
	if env.Mirror {
		sign = -1.0
	}

	switch strings.ToLower(ac.Type) {
	case "pid_drive":
		frame, err := types.ParseFrame(ac.Frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStep, err)
		}
		cmd := types.PIDDriveCommand(ac.Distance, sign*ac.Heading, frame, ac.MaxPower)
		cmd.Tolerance = toleranceOf(ac)
		return func() { env.Drive.Issue(cmd) }, nil

	case "pid_turn":
		frame, err := types.ParseFrame(ac.Frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStep, err)
		}
		cmd := types.PIDTurnCommand(sign*ac.Angle, frame, ac.MaxPower)
		cmd.Tolerance = toleranceOf(ac)
		return func() { env.Drive.Issue(cmd) }, nil

	case "arcade":
		cmd := types.ArcadeCommand(ac.Throttle, sign*ac.Turn)
		return func() { env.Drive.Issue(cmd) }, nil

	case "stop":
		return func() { env.Drive.Issue(types.StopCommand()) }, nil

	case "vision_turn":
		if env.Vision == nil {
			return nil, fmt.Errorf("%w: vision_turn without a vision tracker", ErrInvalidStep)
		}
		tolerance := toleranceOf(ac)
		maxPower := ac.MaxPower
		maxCorrection := ac.MaxCorrection
		return func() {
			correction, ok := env.Vision.Correction()
			if !ok {
				logger.Warn("Vision stale, skipping alignment")
				return
			}
			if maxCorrection > 0 && math.Abs(correction) >= maxCorrection {
				logger.Warn("Vision correction too large, skipping alignment", "correction", correction, "max", maxCorrection)
				return
			}
			cmd := types.PIDTurnCommand(env.Drive.GetAngle()-correction, types.FrameAbsolute, maxPower)
			cmd.Tolerance = tolerance
			env.Drive.Issue(cmd)
		}, nil

	case "shooter_speed", "shooter_stop", "shooter_state", "conveyor", "agitator":
		if env.Shooter == nil {
			return nil, fmt.Errorf("%w: %s without a shooter", ErrInvalidStep, ac.Type)
		}
		return buildShooterAction(ac, env.Shooter)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidStep, ac.Type)
	}
}

func buildShooterAction(ac types.ActionConfig, shooter Shooter) (func(), error) {
	switch strings.ToLower(ac.Type) {
	case "shooter_speed":
		rpm := ac.Value
		return func() { shooter.SetFlywheelSpeed(rpm) }, nil
	case "shooter_stop":
		return shooter.SetFlywheelStop, nil
	case "shooter_state":
		state, err := subsystems.ParseSequenceState(ac.State)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStep, err)
		}
		return func() { shooter.SetSequenceState(state) }, nil
	case "conveyor":
		power := ac.Value
		return func() { shooter.StartConveyor(power) }, nil
	default:
		power := ac.Value
		return func() { shooter.StartAgitator(power) }, nil
	}
}

func toleranceOf(ac types.ActionConfig) *types.ToleranceOverride {
	if ac.DistTolerance == nil && ac.DistWindow == nil && ac.AngleTolerance == nil && ac.AngleWindow == nil {
		return nil
	}
	return &types.ToleranceOverride{
		DistTolerance:  ac.DistTolerance,
		DistWindow:     ac.DistWindow,
		AngleTolerance: ac.AngleTolerance,
		AngleWindow:    ac.AngleWindow,
	}
}

// buildCondition joins the named predicates; every one must hold.
func buildCondition(names []string, env Env) (func() bool, error) {
	preds := make([]func() bool, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "drive_on_target":
			preds = append(preds, env.Drive.OnTarget)
		case "shooter_on_target":
			if env.Shooter == nil {
				return nil, fmt.Errorf("%w: shooter_on_target without a shooter", ErrInvalidStep)
			}
			preds = append(preds, env.Shooter.OnTarget)
		case "vision_fresh":
			if env.Vision == nil {
				return nil, fmt.Errorf("%w: vision_fresh without a vision tracker", ErrInvalidStep)
			}
			preds = append(preds, env.Vision.GetDataFresh)
		default:
			return nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidStep, name)
		}
	}
	if len(preds) == 0 {
		return nil, nil
	}
	return func() bool {
		for _, p := range preds {
			if !p() {
				return false
			}
		}
		return true
	}, nil
}

// Load builds the routine named name from the autonomous configuration. The config's
// retry budget becomes the sequencer default.
func Load(name string, config types.AutonomousConfig, env Env, opts ...Option) (*Sequencer, error) {
	routine, ok := config.Routines[name]
	if !ok {
		return nil, fmt.Errorf("unknown autonomous routine %q", name)
	}
	env.Mirror = config.Mirror
	steps, err := Build(routine, env)
	if err != nil {
		return nil, fmt.Errorf("routine %s: %w", name, err)
	}
	if config.RetryBudget > 0 {
		opts = append([]Option{WithRetryBudget(config.RetryBudget)}, opts...)
	}
	return New(name, steps, opts...)
}
