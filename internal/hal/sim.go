package hal

import (
	"math"
	"sync"
	"time"

	"robot/pkg/types"
)

const (
	defaultSimMaxSpeed    = 120.0 // 英寸/秒
	defaultSimTrackWidth  = 24.0  // 英寸
	defaultSimFlywheelMax = 6000.0
	simFlywheelLag        = 300 * time.Millisecond
)

// Stepper 仿真部件，由调度器按周期推进
type Stepper interface {
	Step(dt time.Duration)
}

// SimDrivetrain 差速底盘仿真，同时提供陀螺仪航向。
// 航向逆时针为正，右轮快于左轮时航向增加。
type SimDrivetrain struct {
	maxSpeed   float64
	trackWidth float64

	mu          sync.Mutex
	left, right float64
	mode        types.ControlMode
	leftDist    float64
	rightDist   float64
	leftRate    float64
	rightRate   float64
	heading     float64
}

func NewSimDrivetrain(config types.SimConfig) *SimDrivetrain {
	sd := &SimDrivetrain{maxSpeed: config.MaxSpeed, trackWidth: config.TrackWidth}
	if sd.maxSpeed <= 0 {
		sd.maxSpeed = defaultSimMaxSpeed
	}
	if sd.trackWidth <= 0 {
		sd.trackWidth = defaultSimTrackWidth
	}
	return sd
}

func (sd *SimDrivetrain) SetDriveOutput(left, right float64) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.left, sd.right = clampUnit(left), clampUnit(right)
}

func (sd *SimDrivetrain) SetDriveControlMode(mode types.ControlMode) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.mode = mode
}

func (sd *SimDrivetrain) ControlMode() types.ControlMode {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.mode
}

// Step 以当前输出推进 dt。两种控制模式下输出都按最大速度的比例解释。
func (sd *SimDrivetrain) Step(dt time.Duration) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	seconds := dt.Seconds()
	sd.leftRate = sd.left * sd.maxSpeed
	sd.rightRate = sd.right * sd.maxSpeed
	sd.leftDist += sd.leftRate * seconds
	sd.rightDist += sd.rightRate * seconds

	omega := (sd.rightRate - sd.leftRate) / sd.trackWidth
	sd.heading += omega * seconds * 180 / math.Pi
}

func (sd *SimDrivetrain) LeftDistance() float64 {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.leftDist
}

func (sd *SimDrivetrain) RightDistance() float64 {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.rightDist
}

func (sd *SimDrivetrain) LeftRate() float64 {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.leftRate
}

func (sd *SimDrivetrain) RightRate() float64 {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.rightRate
}

func (sd *SimDrivetrain) Angle() float64 {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.heading
}

// SimFlywheel 一阶滞后的飞轮仿真
type SimFlywheel struct {
	maxRPM float64

	mu       sync.Mutex
	target   float64
	rate     float64
	conveyor float64
	agitator float64
}

func NewSimFlywheel(maxRPM float64) *SimFlywheel {
	if maxRPM <= 0 {
		maxRPM = defaultSimFlywheelMax
	}
	return &SimFlywheel{maxRPM: maxRPM}
}

func (sf *SimFlywheel) SetFlywheelSpeed(rpm float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.target = math.Max(-sf.maxRPM, math.Min(sf.maxRPM, rpm))
}

func (sf *SimFlywheel) SetFlywheelPower(power float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.target = clampUnit(power) * sf.maxRPM
}

func (sf *SimFlywheel) FlywheelRate() float64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.rate
}

func (sf *SimFlywheel) SetConveyorPower(power float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.conveyor = clampUnit(power)
}

func (sf *SimFlywheel) SetAgitatorPower(power float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.agitator = clampUnit(power)
}

// Feed 返回传送带与搅拌器的当前功率
func (sf *SimFlywheel) Feed() (conveyor, agitator float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.conveyor, sf.agitator
}

func (sf *SimFlywheel) Step(dt time.Duration) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	alpha := math.Min(1, dt.Seconds()/simFlywheelLag.Seconds())
	sf.rate += (sf.target - sf.rate) * alpha
}

// SimCamera 返回固定目标的仿真相机
type SimCamera struct {
	mu      sync.Mutex
	targets []types.Target
}

func NewSimCamera(xs []float64) *SimCamera {
	sc := &SimCamera{}
	sc.SetTargets(xs...)
	return sc
}

// SetTargets 替换后续每一帧的检测结果
func (sc *SimCamera) SetTargets(xs ...float64) {
	targets := make([]types.Target, len(xs))
	for i, x := range xs {
		targets[i] = types.Target{X: x}
	}
	sc.mu.Lock()
	sc.targets = targets
	sc.mu.Unlock()
}

func (sc *SimCamera) PollTargets() ([]types.Target, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]types.Target, len(sc.targets))
	copy(out, sc.targets)
	return out, nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
