package core

import (
	"robot/pkg/types"
)

// Task is the periodic capability every scheduled component implements.
// Periodic must return well inside the scheduler period; it is never preempted.
type Task interface {
	Periodic(mode types.OperatingMode)
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(mode types.OperatingMode)

func (f TaskFunc) Periodic(mode types.OperatingMode) { f(mode) }

// ModeSource reports the currently active operating mode.
type ModeSource interface {
	Mode() types.OperatingMode
}

// ModeSelector is the external mode signal sampled once per lifecycle tick.
type ModeSelector interface {
	SampleMode() types.OperatingMode
}

// ModeHandler receives the lifecycle hooks. Start and Stop fire exactly once per
// transition; Continuous fires every tick in the active mode after the scheduler tick;
// AllModesContinuous fires every tick regardless of mode.
type ModeHandler interface {
	ModeStart(mode types.OperatingMode)
	ModeStop(mode types.OperatingMode)
	ModeContinuous(mode types.OperatingMode)
	AllModesContinuous()
}

// StaticMode is a ModeSource fixed to one mode.
type StaticMode types.OperatingMode

func (s StaticMode) Mode() types.OperatingMode { return types.OperatingMode(s) }
