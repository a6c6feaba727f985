package hal

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"robot/pkg/types"
)

func TestSimDrivetrainStraight(t *testing.T) {
	sd := NewSimDrivetrain(types.SimConfig{MaxSpeed: 100, TrackWidth: 20})
	sd.SetDriveOutput(0.5, 0.5)
	sd.Step(time.Second)

	assert.InDelta(t, 50, sd.LeftDistance(), 1e-9)
	assert.InDelta(t, 50, sd.RightDistance(), 1e-9)
	assert.InDelta(t, 50, sd.LeftRate(), 1e-9)
	assert.InDelta(t, 0, sd.Angle(), 1e-9)
}

func TestSimDrivetrainTurnsCounterClockwise(t *testing.T) {
	sd := NewSimDrivetrain(types.SimConfig{MaxSpeed: 100, TrackWidth: 20})
	sd.SetDriveOutput(-0.1, 0.1)
	sd.Step(100 * time.Millisecond)

	// (10 - -10) / 20 = 1 rad/s for 0.1 s
	assert.InDelta(t, 0.1*180/3.141592653589793, sd.Angle(), 1e-9)
	assert.InDelta(t, 0, (sd.LeftDistance()+sd.RightDistance())/2, 1e-9)
}

func TestSimDrivetrainClampsOutput(t *testing.T) {
	sd := NewSimDrivetrain(types.SimConfig{})
	sd.SetDriveOutput(3, -3)
	sd.SetDriveControlMode(types.ControlClosedLoopVelocity)
	sd.Step(time.Second)

	assert.InDelta(t, defaultSimMaxSpeed, sd.LeftRate(), 1e-9)
	assert.InDelta(t, -defaultSimMaxSpeed, sd.RightRate(), 1e-9)
	assert.Equal(t, types.ControlClosedLoopVelocity, sd.ControlMode())
}

func TestSimFlywheelApproachesTarget(t *testing.T) {
	sf := NewSimFlywheel(0)
	sf.SetFlywheelSpeed(3000)
	sf.Step(20 * time.Millisecond)
	assert.Less(t, sf.FlywheelRate(), 3000.0)
	for i := 0; i < 300; i++ {
		sf.Step(20 * time.Millisecond)
	}
	assert.InDelta(t, 3000, sf.FlywheelRate(), 1)

	sf.SetFlywheelPower(0.25)
	for i := 0; i < 300; i++ {
		sf.Step(20 * time.Millisecond)
	}
	assert.InDelta(t, defaultSimFlywheelMax/4, sf.FlywheelRate(), 1)

	sf.SetConveyorPower(2)
	sf.SetAgitatorPower(-0.3)
	conveyor, agitator := sf.Feed()
	assert.Equal(t, 1.0, conveyor)
	assert.Equal(t, -0.3, agitator)
}

func TestSimCameraReturnsCopy(t *testing.T) {
	sc := NewSimCamera([]float64{100, 220})
	targets, err := sc.PollTargets()
	require.NoError(t, err)
	require.Len(t, targets, 2)
	targets[0].X = -1

	again, _ := sc.PollTargets()
	assert.Equal(t, 100.0, again[0].X)

	sc.SetTargets()
	empty, _ := sc.PollTargets()
	assert.Empty(t, empty)
}

func TestOpenSimHardware(t *testing.T) {
	hw, err := Open(context.Background(), types.HardwareConfig{})
	require.NoError(t, err)
	defer hw.Close()

	assert.True(t, hw.Simulated())
	hw.Drive.SetDriveOutput(1, 1)
	hw.Step(100 * time.Millisecond)
	assert.Greater(t, hw.Drive.LeftDistance(), 0.0)

	_, err = Open(context.Background(), types.HardwareConfig{Backend: "can"})
	assert.Error(t, err)
	_, err = Open(context.Background(), types.HardwareConfig{Camera: types.CameraConfig{Backend: "lidar"}})
	assert.Error(t, err)
}

type fakeRegisters struct {
	mu       sync.Mutex
	written  []byte
	inputs   []byte
	writeErr error
	writes   int
}

func (f *fakeRegisters) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs, nil
}

func (f *fakeRegisters) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.written = append([]byte(nil), value...)
	return nil, nil
}

func (f *fakeRegisters) register(i int) int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int16(binary.BigEndian.Uint16(f.written[2*i:]))
}

func newTestModbusDrive(t *testing.T) (*ModbusDrive, *fakeRegisters) {
	t.Helper()
	md, err := NewModbusDrive(types.ModbusConfig{Type: "tcp", Scale: 100, Period: time.Hour})
	require.NoError(t, err)
	regs := &fakeRegisters{inputs: make([]byte, 2*inputCount)}
	md.attach(regs)
	t.Cleanup(func() { md.Close() })
	return md, regs
}

func TestHardwareCloseKeepsEveryError(t *testing.T) {
	errDrive := errors.New("drive bus closed")
	errCamera := errors.New("camera port closed")
	var order []string
	hw := &Hardware{closers: []func() error{
		func() error { order = append(order, "drive"); return errDrive },
		func() error { order = append(order, "camera"); return errCamera },
	}}

	err := hw.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errDrive)
	assert.ErrorIs(t, err, errCamera)
	assert.Equal(t, []string{"camera", "drive"}, order)

	assert.NoError(t, hw.Close())
}

func TestModbusDriveWritesScaledOutputs(t *testing.T) {
	md, regs := newTestModbusDrive(t)

	md.SetDriveOutput(0.5, -1.5)
	md.SetDriveControlMode(types.ControlClosedLoopVelocity)
	md.SetFlywheelSpeed(3100)
	md.SetConveyorPower(1)
	require.NoError(t, md.sync())

	assert.Equal(t, int16(50), regs.register(int(regLeftOutput)))
	assert.Equal(t, int16(-100), regs.register(int(regRightOutput)))
	assert.Equal(t, int16(types.ControlClosedLoopVelocity), regs.register(int(regControlMode)))
	assert.Equal(t, int16(flywheelModeSpeed), regs.register(int(regFlywheelMode)))
	assert.Equal(t, int16(3100), regs.register(int(regFlywheelSetpoint)))
	assert.Equal(t, int16(100), regs.register(int(regConveyor)))
	assert.Equal(t, StatusConnected, md.Status())
}

func TestModbusDriveReadsFeedback(t *testing.T) {
	md, regs := newTestModbusDrive(t)

	put32 := func(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)) }
	put16 := func(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)) }

	in := make([]byte, 2*inputCount)
	put32(in[2*regLeftDistance:], -123456)
	put32(in[2*regRightDistance:], 200000)
	put16(in[2*regGyroAngle:], -4550)
	put16(in[2*regFlywheelRate:], 2980)
	regs.inputs = in
	require.NoError(t, md.sync())

	assert.InDelta(t, -1234.56, md.LeftDistance(), 1e-9)
	assert.InDelta(t, 2000, md.RightDistance(), 1e-9)
	assert.InDelta(t, -45.5, md.Angle(), 1e-9)
	assert.Equal(t, 2980.0, md.FlywheelRate())
	assert.False(t, md.LastSync().IsZero())
}

func TestModbusDriveSyncError(t *testing.T) {
	md, regs := newTestModbusDrive(t)
	regs.writeErr = errors.New("timeout")

	err := md.sync()
	require.Error(t, err)
	assert.Equal(t, StatusError, md.Status())
	assert.ErrorContains(t, md.LastError(), "timeout")

	regs.writeErr = nil
	regs.inputs = []byte{0, 1}
	assert.ErrorContains(t, md.sync(), "short input read")
}

func TestModbusDriveCloseZeroesOutputs(t *testing.T) {
	md, err := NewModbusDrive(types.ModbusConfig{Type: "rtu", Period: time.Hour})
	require.NoError(t, err)
	regs := &fakeRegisters{inputs: make([]byte, 2*inputCount)}
	md.attach(regs)

	md.SetDriveOutput(1, 1)
	require.NoError(t, md.sync())
	require.Equal(t, int16(defaultModbusScale), regs.register(int(regLeftOutput)))

	require.NoError(t, md.Close())
	assert.Equal(t, int16(0), regs.register(int(regLeftOutput)))
	assert.Equal(t, StatusDisconnected, md.Status())
	assert.NoError(t, md.Close())
}

func TestNewModbusDriveRejectsType(t *testing.T) {
	_, err := NewModbusDrive(types.ModbusConfig{Type: "canbus"})
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	targets, err := parseFrame("T 2 120.5 40 200 41")
	require.NoError(t, err)
	assert.Equal(t, []types.Target{{X: 120.5, Y: 40}, {X: 200, Y: 41}}, targets)

	targets, err = parseFrame("T 0")
	require.NoError(t, err)
	assert.Empty(t, targets)

	for _, line := range []string{"X 1 2 3", "T", "T two", "T 2 1 2", "T 1 a b", "T -1"} {
		_, err := parseFrame(line)
		assert.ErrorIs(t, err, errBadFrame, line)
	}
}

func TestSerialCameraKeepsLatestFrame(t *testing.T) {
	r, w := io.Pipe()
	cam := newSerialCamera(r)
	defer cam.Close()

	_, err := io.WriteString(w, "T 1 100 0\ngarbage\nT 2 10 0 30 0\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		frames, dropped := cam.Stats()
		return frames == 2 && dropped == 1
	}, time.Second, time.Millisecond)

	targets, err := cam.PollTargets()
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	// consumed: nothing new until the next frame
	targets, err = cam.PollTargets()
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestSerialCameraReportsReadError(t *testing.T) {
	r, w := io.Pipe()
	cam := newSerialCamera(r)
	defer cam.Close()

	w.CloseWithError(errors.New("unplugged"))
	require.Eventually(t, func() bool { return cam.Status() == StatusError }, time.Second, time.Millisecond)

	_, err := cam.PollTargets()
	assert.ErrorContains(t, err, "unplugged")
}

func TestManualModeSelector(t *testing.T) {
	s := NewManualModeSelector(types.ModeDisabled)
	assert.Equal(t, types.ModeDisabled, s.SampleMode())
	s.Set(types.ModeTeleop)
	assert.Equal(t, types.ModeTeleop, s.SampleMode())
}

func TestMatchScript(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))
	ms, err := ParseMatchScript([]types.MatchPhase{
		{Mode: "autonomous", Duration: 15 * time.Second},
		{Mode: "teleop", Duration: 135 * time.Second},
	}, fc)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, ms.Length())

	assert.Equal(t, types.ModeAutonomous, ms.SampleMode())
	fc.Step(15 * time.Second)
	assert.Equal(t, types.ModeTeleop, ms.SampleMode())
	fc.Step(135 * time.Second)
	assert.Equal(t, types.ModeDisabled, ms.SampleMode())
	assert.True(t, ms.Finished())

	_, err = ParseMatchScript([]types.MatchPhase{{Mode: "overtime", Duration: time.Second}}, fc)
	assert.Error(t, err)
	_, err = ParseMatchScript([]types.MatchPhase{{Mode: "teleop"}}, fc)
	assert.Error(t, err)
}

func TestRetryGivesUp(t *testing.T) {
	l := newLink("test")
	calls := 0
	err := retry(context.Background(), 2, time.Millisecond, l.logger, func() error {
		calls++
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, retry(ctx, 2, time.Millisecond, l.logger, func() error { return nil }), context.Canceled)
}
