// Package hal is the hardware abstraction layer: the collaborator interfaces the control
// core drives, and the simulated, modbus and serial realizations of them.
package hal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"robot/internal/logging"
	"robot/pkg/types"
)

// DriveActuator 驱动执行器：接收左右输出并上报编码器
type DriveActuator interface {
	SetDriveOutput(left, right float64)
	SetDriveControlMode(mode types.ControlMode)
	LeftDistance() float64
	RightDistance() float64
	LeftRate() float64
	RightRate() float64
}

// Gyro 陀螺仪航向（度）
type Gyro interface {
	Angle() float64
}

// TargetSource 视觉目标源，每次轮询返回当前帧的全部检测结果
type TargetSource interface {
	PollTargets() ([]types.Target, error)
}

// Flywheel 射球飞轮：闭环转速与上报
type Flywheel interface {
	SetFlywheelSpeed(rpm float64)
	SetFlywheelPower(power float64)
	FlywheelRate() float64
	SetConveyorPower(power float64)
	SetAgitatorPower(power float64)
}

// Hardware 一组已连接的硬件
type Hardware struct {
	Drive    DriveActuator
	Gyro     Gyro
	Camera   TargetSource
	Flywheel Flywheel

	steppers []Stepper
	closers  []func() error
	logger   *logging.Logger
}

// Open 按配置创建硬件后端
func Open(ctx context.Context, config types.HardwareConfig) (*Hardware, error) {
	hw := &Hardware{logger: logging.GetLogger("hal")}

	switch strings.ToLower(config.Backend) {
	case "", "sim":
		drive := NewSimDrivetrain(config.Sim)
		flywheel := NewSimFlywheel(config.Sim.FlywheelMax)
		hw.Drive = drive
		hw.Gyro = drive
		hw.Flywheel = flywheel
		hw.steppers = append(hw.steppers, drive, flywheel)
	case "modbus":
		drive, err := NewModbusDrive(config.Modbus)
		if err != nil {
			return nil, fmt.Errorf("failed to open modbus drive: %w", err)
		}
		if err := drive.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect modbus drive: %w", err)
		}
		hw.Drive = drive
		hw.Gyro = drive
		hw.Flywheel = drive
		hw.closers = append(hw.closers, drive.Close)
	default:
		return nil, fmt.Errorf("unsupported hardware backend: %s", config.Backend)
	}

	switch strings.ToLower(config.Camera.Backend) {
	case "", "sim":
		hw.Camera = NewSimCamera(config.Sim.Targets)
	case "serial":
		cam, err := OpenSerialCamera(config.Camera)
		if err != nil {
			hw.Close()
			return nil, fmt.Errorf("failed to open serial camera: %w", err)
		}
		hw.Camera = cam
		hw.closers = append(hw.closers, cam.Close)
	default:
		hw.Close()
		return nil, fmt.Errorf("unsupported camera backend: %s", config.Camera.Backend)
	}

	hw.logger.Info("Hardware opened", "backend", config.Backend, "camera", config.Camera.Backend)
	return hw, nil
}

// Simulated 是否包含需要推进的仿真部件
func (hw *Hardware) Simulated() bool {
	return len(hw.steppers) > 0
}

// Step 推进所有仿真部件，真实硬件下为空操作
func (hw *Hardware) Step(dt time.Duration) {
	for _, s := range hw.steppers {
		s.Step(dt)
	}
}

// Close 释放所有底层连接
func (hw *Hardware) Close() error {
	var errs []error
	for i := len(hw.closers) - 1; i >= 0; i-- {
		if err := hw.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	hw.closers = nil

	if len(errs) > 0 {
		return fmt.Errorf("hardware close errors: %w", errors.Join(errs...))
	}
	return nil
}
