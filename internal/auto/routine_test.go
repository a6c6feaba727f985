package auto

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"robot/internal/drive"
	"robot/internal/subsystems"
	"robot/pkg/types"
)

type fakeDrive struct {
	issued   []types.DriveCommand
	onTarget bool
	angle    float64
}

func (f *fakeDrive) Issue(cmd types.DriveCommand) *drive.MotionConfig {
	f.issued = append(f.issued, cmd)
	return &drive.MotionConfig{}
}
func (f *fakeDrive) OnTarget() bool    { return f.onTarget }
func (f *fakeDrive) GetAngle() float64 { return f.angle }

type fakeShooter struct {
	speed    float64
	stopped  bool
	onTarget bool
	state    subsystems.SequenceState
	conveyor float64
	agitator float64
}

func (f *fakeShooter) SetFlywheelSpeed(rpm float64)                { f.speed = rpm }
func (f *fakeShooter) SetFlywheelStop()                            { f.stopped = true }
func (f *fakeShooter) OnTarget() bool                              { return f.onTarget }
func (f *fakeShooter) SetSequenceState(s subsystems.SequenceState) { f.state = s }
func (f *fakeShooter) StartConveyor(p float64)                     { f.conveyor = p }
func (f *fakeShooter) StartAgitator(p float64)                     { f.agitator = p }

type fakeVision struct {
	fresh      bool
	correction float64
}

func (f *fakeVision) GetDataFresh() bool { return f.fresh }
func (f *fakeVision) Correction() (float64, bool) {
	return f.correction, f.fresh
}

func ptr[T any](v T) *T { return &v }

func TestBuildActionsAndDefaults(t *testing.T) {
	d := &fakeDrive{}
	sh := &fakeShooter{}
	steps, err := Build(types.RoutineConfig{Steps: []types.StepConfig{
		{
			Name: "spin_up_and_back",
			Actions: []types.ActionConfig{
				{Type: "pid_drive", Distance: -40, Frame: "now", MaxPower: 1},
				{Type: "shooter_speed", Value: 3100},
				{Type: "conveyor", Value: 0},
			},
			Exit: types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 2500 * time.Millisecond},
		},
		{
			Name:    "turn",
			Actions: []types.ActionConfig{{Type: "pid_turn", Angle: -55, Frame: "absolute", MaxPower: 1, AngleTolerance: ptr(15.0), AngleWindow: ptr(4)}},
			Exit:    types.ExitConfig{Conditions: []string{"drive_on_target", "shooter_on_target"}, Timeout: 2500 * time.Millisecond},
		},
	}}, Env{Drive: d, Shooter: sh})
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, 1, steps[0].Next)
	assert.Equal(t, End, steps[1].Next)

	steps[0].Enter()
	require.Len(t, d.issued, 1)
	assert.Equal(t, types.DrivePID, d.issued[0].Kind)
	assert.Equal(t, -40.0, d.issued[0].Distance)
	assert.Nil(t, d.issued[0].Tolerance)
	assert.Equal(t, 3100.0, sh.speed)

	steps[1].Enter()
	turn := d.issued[1]
	assert.Equal(t, types.DriveTurn, turn.Kind)
	assert.Equal(t, types.FrameAbsolute, turn.Frame)
	require.NotNil(t, turn.Tolerance)
	assert.Equal(t, 15.0, *turn.Tolerance.AngleTolerance)
	assert.Equal(t, 4, *turn.Tolerance.AngleWindow)
	assert.Nil(t, turn.Tolerance.DistTolerance)

	d.onTarget = true
	assert.False(t, steps[1].Condition())
	sh.onTarget = true
	assert.True(t, steps[1].Condition())
}

func TestBuildMirrorFlipsTurns(t *testing.T) {
	d := &fakeDrive{}
	steps, err := Build(types.RoutineConfig{Steps: []types.StepConfig{{
		Actions: []types.ActionConfig{
			{Type: "pid_turn", Angle: -55, Frame: "absolute"},
			{Type: "pid_drive", Distance: 10, Heading: 5},
			{Type: "arcade", Throttle: -0.3, Turn: 0.2},
		},
		Exit: types.ExitConfig{Timeout: time.Second},
	}}}, Env{Drive: d, Mirror: true})
	require.NoError(t, err)

	steps[0].Enter()
	assert.Equal(t, 55.0, d.issued[0].Angle)
	assert.Equal(t, 10.0, d.issued[1].Distance)
	assert.Equal(t, -5.0, d.issued[1].Heading)
	assert.Equal(t, -0.3, d.issued[2].Throttle)
	assert.Equal(t, -0.2, d.issued[2].Turn)
	assert.Equal(t, "step0", steps[0].Name)
	assert.Nil(t, steps[0].Condition)
}

func TestVisionTurn(t *testing.T) {
	d := &fakeDrive{angle: 30}
	v := &fakeVision{}
	steps, err := Build(types.RoutineConfig{Steps: []types.StepConfig{{
		Actions: []types.ActionConfig{{Type: "vision_turn", MaxCorrection: 10, MaxPower: 1}},
		Exit:    types.ExitConfig{Conditions: []string{"vision_fresh"}, Timeout: time.Second},
	}}}, Env{Drive: d, Vision: v})
	require.NoError(t, err)

	// stale: no command
	steps[0].Enter()
	assert.Empty(t, d.issued)

	// too large: no command
	v.fresh, v.correction = true, 12
	steps[0].Enter()
	assert.Empty(t, d.issued)

	v.correction = 4
	steps[0].Enter()
	require.Len(t, d.issued, 1)
	assert.Equal(t, types.DriveTurn, d.issued[0].Kind)
	assert.Equal(t, types.FrameAbsolute, d.issued[0].Frame)
	assert.Equal(t, 26.0, d.issued[0].Angle)
	assert.True(t, steps[0].Condition())
}

func TestBuildRejectsBadTables(t *testing.T) {
	d := &fakeDrive{}
	cases := map[string]types.StepConfig{
		"action":    {Actions: []types.ActionConfig{{Type: "fly"}}, Exit: types.ExitConfig{Timeout: time.Second}},
		"frame":     {Actions: []types.ActionConfig{{Type: "pid_drive", Frame: "sideways"}}, Exit: types.ExitConfig{Timeout: time.Second}},
		"condition": {Exit: types.ExitConfig{Conditions: []string{"moon_phase"}, Timeout: time.Second}},
		"shooter":   {Actions: []types.ActionConfig{{Type: "shooter_speed", Value: 1}}, Exit: types.ExitConfig{Timeout: time.Second}},
		"vision":    {Exit: types.ExitConfig{Conditions: []string{"vision_fresh"}, Timeout: time.Second}},
		"state":     {Actions: []types.ActionConfig{{Type: "shooter_state", State: "dancing"}}, Exit: types.ExitConfig{Timeout: time.Second}},
	}
	for name, sc := range cases {
		t.Run(name, func(t *testing.T) {
			env := Env{Drive: d}
			if name == "state" {
				env.Shooter = &fakeShooter{}
			}
			_, err := Build(types.RoutineConfig{Steps: []types.StepConfig{sc}}, env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidStep))
		})
	}
}

func TestLoadAppliesRetryBudgetAndRouting(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))
	d := &fakeDrive{}
	config := types.AutonomousConfig{
		RetryBudget: 1,
		Routines: map[string]types.RoutineConfig{
			"gear": {Steps: []types.StepConfig{
				{Name: "approach", Actions: []types.ActionConfig{{Type: "pid_drive", Distance: 30}}, Exit: types.ExitConfig{Timeout: 100 * time.Millisecond}},
				{Name: "place", Exit: types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 100 * time.Millisecond}, OnTimeout: ptr(0)},
				{Name: "done", Actions: []types.ActionConfig{{Type: "stop"}}, Exit: types.ExitConfig{Timeout: 100 * time.Millisecond}},
			}},
		},
	}

	seq, err := Load("gear", config, Env{Drive: d}, WithClock(fc))
	require.NoError(t, err)
	seq.Start()
	for i := 0; i < 100 && !seq.Done(); i++ {
		fc.Step(tickPeriod)
		seq.Tick()
	}

	require.True(t, seq.Done())
	// approach, retry approach, then budget spent: place routes to End
	require.Len(t, d.issued, 2)
	assert.Equal(t, 1, seq.Retries(1))
	assert.Equal(t, 1, seq.Current())

	_, err = Load("missing", config, Env{Drive: d})
	assert.Error(t, err)
}
