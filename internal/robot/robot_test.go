package robot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"robot/internal/config"
	"robot/internal/telemetry"
	"robot/pkg/types"
)

func newTestRobot(t *testing.T, mutate func(*types.SystemConfig)) (*Robot, *testingclock.FakeClock) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Telemetry.MetricsAddr = ""
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, config.Validate(&cfg))

	fake := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	r, err := New(context.Background(), cfg, WithClock(fake))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, fake
}

// tick advances the clock by one loop period and runs one lifecycle cycle.
func tick(r *Robot, fake *testingclock.FakeClock, n int) {
	for i := 0; i < n; i++ {
		fake.Step(r.config.LoopPeriod)
		r.Lifecycle().Tick(context.Background())
	}
}

func TestNewRegistersTasksInOrder(t *testing.T) {
	r, _ := newTestRobot(t, nil)
	assert.Equal(t, []string{"sim", "drive", "shooter"}, r.sched.TaskNames())
	assert.NotNil(t, r.ManualSelector())
	assert.NotNil(t, r.Shooter())
}

func TestNewWithoutShooter(t *testing.T) {
	r, _ := newTestRobot(t, func(c *types.SystemConfig) {
		c.Shooter.Enabled = false
		c.Autonomous.Routine = "drive_forward"
	})
	assert.Nil(t, r.Shooter())
	assert.Equal(t, []string{"sim", "drive"}, r.sched.TaskNames())
}

func TestNewRejectsMQTTSourceWithoutBroker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModeSelect.Source = "mqtt"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestDisabledHoldsStill(t *testing.T) {
	r, fake := newTestRobot(t, nil)
	tick(r, fake, 10)

	assert.Equal(t, types.ModeDisabled, r.Mode())
	assert.Equal(t, types.DriveStop, r.Drive().Command().Kind)
	assert.Zero(t, r.Drive().GetDistance())
	mode, ok := r.Telemetry().Get("robot.mode")
	require.True(t, ok)
	assert.Equal(t, "disabled", mode)
	_, ok = r.Telemetry().Get("robot.time")
	assert.True(t, ok)
}

func TestAutonomousRunsRoutine(t *testing.T) {
	r, fake := newTestRobot(t, nil)
	tick(r, fake, 1)

	r.ManualSelector().Set(types.ModeAutonomous)
	tick(r, fake, 1)
	routine := r.Routine()
	require.NotNil(t, routine)
	assert.Equal(t, config.DefaultRoutine, routine.Name())
	assert.Equal(t, "spin_up_and_back", routine.CurrentName())

	tick(r, fake, 50)
	assert.Less(t, r.Drive().GetDistance(), 0.0)
	assert.Greater(t, r.Shooter().FlywheelRate(), 0.0)

	r.ManualSelector().Set(types.ModeDisabled)
	tick(r, fake, 1)
	assert.Nil(t, r.Routine())
	assert.Equal(t, types.DriveStop, r.Drive().Command().Kind)
}

func TestAutonomousWithUnknownRoutineIdles(t *testing.T) {
	r, fake := newTestRobot(t, nil)
	cfg := config.DefaultConfig()
	cfg.Autonomous.Routine = "missing"
	r.UpdateConfig(cfg)

	r.ManualSelector().Set(types.ModeAutonomous)
	tick(r, fake, 5)
	assert.Nil(t, r.Routine())
	assert.Equal(t, types.DriveStop, r.Drive().Command().Kind)
}

func TestUpdateConfigAppliesAtNextAutonomous(t *testing.T) {
	r, fake := newTestRobot(t, nil)
	cfg := config.DefaultConfig()
	cfg.Autonomous.Routine = "drive_forward"
	r.UpdateConfig(cfg)

	r.ManualSelector().Set(types.ModeAutonomous)
	tick(r, fake, 1)
	require.NotNil(t, r.Routine())
	assert.Equal(t, "drive_forward", r.Routine().Name())

	tick(r, fake, 50)
	assert.Greater(t, r.Drive().GetDistance(), 0.0)
}

func TestTeleopFollowsOperator(t *testing.T) {
	r, fake := newTestRobot(t, nil)
	r.ManualSelector().Set(types.ModeTeleop)
	tick(r, fake, 1)

	r.Operator().SetStick(telemetry.Stick{Throttle: 0.5})
	tick(r, fake, 1)
	cmd := r.Drive().Command()
	assert.Equal(t, types.DriveArcade, cmd.Kind)
	assert.Equal(t, 0.5, cmd.Throttle)

	fake.Step(DeadmanTimeout)
	tick(r, fake, 1)
	assert.Zero(t, r.Drive().Command().Throttle)
}

func TestScriptSelector(t *testing.T) {
	r, fake := newTestRobot(t, func(c *types.SystemConfig) {
		c.ModeSelect.Source = "script"
		c.ModeSelect.Script = []types.MatchPhase{
			{Mode: "disabled", Duration: 100 * time.Millisecond},
			{Mode: "autonomous", Duration: 200 * time.Millisecond},
		}
	})
	assert.Nil(t, r.ManualSelector())

	tick(r, fake, 1)
	assert.Equal(t, types.ModeDisabled, r.Mode())
	tick(r, fake, 6)
	assert.Equal(t, types.ModeAutonomous, r.Mode())
	tick(r, fake, 15)
	assert.Equal(t, types.ModeDisabled, r.Mode())
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newTestRobot(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOperatorDeadman(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Unix(0, 0))
	op := NewOperator(fake)
	assert.Equal(t, telemetry.Stick{}, op.Stick())

	op.SetStick(telemetry.Stick{Throttle: -0.3, Turn: 0.2})
	assert.Equal(t, telemetry.Stick{Throttle: -0.3, Turn: 0.2}, op.Stick())

	fake.Step(DeadmanTimeout + time.Millisecond)
	assert.Equal(t, telemetry.Stick{}, op.Stick())

	op.SetStick(telemetry.Stick{Turn: 1})
	op.Reset()
	assert.Equal(t, telemetry.Stick{}, op.Stick())
}
