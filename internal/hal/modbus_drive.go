package hal

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"golang.org/x/time/rate"

	"robot/pkg/types"
)

// 保持寄存器（输出）布局
const (
	regLeftOutput uint16 = iota
	regRightOutput
	regControlMode
	regFlywheelMode
	regFlywheelSetpoint
	regConveyor
	regAgitator
	holdingCount
)

// 输入寄存器（反馈）布局，距离为两个寄存器组成的 int32
const (
	regLeftDistance  uint16 = 0
	regRightDistance        = 2
	regLeftRate             = 4
	regRightRate            = 5
	regGyroAngle            = 6
	regFlywheelRate         = 7
	inputCount              = 8
)

const (
	flywheelModePower uint16 = iota
	flywheelModeSpeed
)

const (
	defaultModbusScale   = 100.0
	defaultModbusPeriod  = 20 * time.Millisecond
	defaultModbusTimeout = time.Second
)

// registerClient 是所用到的 modbus.Client 子集
type registerClient interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusDrive 通过 Modbus 控制器驱动底盘、陀螺仪和飞轮。
// 输出在内存中缓存，同步循环按周期写入保持寄存器并回读输入寄存器。
type ModbusDrive struct {
	link
	config  types.ModbusConfig
	handler modbusHandler
	client  registerClient

	mu       sync.Mutex
	holding  [holdingCount]uint16
	inputs   [inputCount]uint16
	lastSync time.Time

	errLog rate.Sometimes
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModbusDrive 创建 Modbus 底盘，尚未连接
func NewModbusDrive(config types.ModbusConfig) (*ModbusDrive, error) {
	switch strings.ToLower(config.Type) {
	case "tcp", "rtu", "ascii":
	default:
		return nil, fmt.Errorf("unsupported Modbus type: %s", config.Type)
	}
	if config.Scale <= 0 {
		config.Scale = defaultModbusScale
	}
	if config.Period <= 0 {
		config.Period = defaultModbusPeriod
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultModbusTimeout
	}
	return &ModbusDrive{
		link:   newLink("modbus"),
		config: config,
		errLog: rate.Sometimes{Interval: 5 * time.Second},
	}, nil
}

// Connect 连接控制器并启动同步循环
func (md *ModbusDrive) Connect(ctx context.Context) error {
	md.setStatus(StatusConnecting)

	err := retry(ctx, md.config.RetryCount, md.config.RetryInterval, md.logger, func() error {
		handler, err := md.newHandler()
		if err != nil {
			return err
		}
		if err := handler.Connect(); err != nil {
			return fmt.Errorf("failed to connect %s Modbus: %w", md.config.Type, err)
		}
		md.handler = handler
		return nil
	})
	if err != nil {
		return md.fail(err)
	}

	md.attach(modbus.NewClient(md.handler))
	return nil
}

func (md *ModbusDrive) newHandler() (modbusHandler, error) {
	switch strings.ToLower(md.config.Type) {
	case "tcp":
		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", md.config.Address, md.config.Port))
		handler.Timeout = md.config.Timeout
		handler.SlaveId = md.config.SlaveID
		return handler, nil
	case "rtu":
		handler := modbus.NewRTUClientHandler(md.config.Address)
		handler.BaudRate = md.config.BaudRate
		handler.DataBits = md.config.DataBits
		handler.StopBits = md.config.StopBits
		handler.Parity = md.config.Parity
		handler.SlaveId = md.config.SlaveID
		handler.Timeout = md.config.Timeout
		return handler, nil
	case "ascii":
		handler := modbus.NewASCIIClientHandler(md.config.Address)
		handler.BaudRate = md.config.BaudRate
		handler.DataBits = md.config.DataBits
		handler.StopBits = md.config.StopBits
		handler.Parity = md.config.Parity
		handler.SlaveId = md.config.SlaveID
		handler.Timeout = md.config.Timeout
		return handler, nil
	default:
		return nil, fmt.Errorf("unsupported Modbus type: %s", md.config.Type)
	}
}

// attach 绑定客户端并启动同步循环
func (md *ModbusDrive) attach(client registerClient) {
	md.client = client
	md.ctx, md.cancel = context.WithCancel(context.Background())
	md.setStatus(StatusConnected)

	md.wg.Add(1)
	go md.run()
}

func (md *ModbusDrive) run() {
	defer md.wg.Done()

	ticker := time.NewTicker(md.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-md.ctx.Done():
			return
		case <-ticker.C:
			if err := md.sync(); err != nil {
				md.errLog.Do(func() {
					md.logger.Warn("Modbus sync failed", "error", err)
				})
			}
		}
	}
}

// sync 写出缓存的输出并回读反馈
func (md *ModbusDrive) sync() error {
	md.mu.Lock()
	holding := md.holding
	md.mu.Unlock()

	payload := make([]byte, 2*len(holding))
	for i, v := range holding {
		binary.BigEndian.PutUint16(payload[2*i:], v)
	}
	if _, err := md.client.WriteMultipleRegisters(regLeftOutput, uint16(len(holding)), payload); err != nil {
		return md.fail(fmt.Errorf("failed to write outputs: %w", err))
	}

	raw, err := md.client.ReadInputRegisters(regLeftDistance, inputCount)
	if err != nil {
		return md.fail(fmt.Errorf("failed to read inputs: %w", err))
	}
	if len(raw) < 2*inputCount {
		return md.fail(fmt.Errorf("short input read: %d bytes", len(raw)))
	}

	md.mu.Lock()
	for i := range md.inputs {
		md.inputs[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	md.lastSync = time.Now()
	md.mu.Unlock()

	md.setStatus(StatusConnected)
	return nil
}

// Close 停止同步循环，先写零输出再断开
func (md *ModbusDrive) Close() error {
	if md.cancel == nil {
		return nil
	}
	md.cancel()
	md.wg.Wait()
	md.cancel = nil

	md.mu.Lock()
	md.holding = [holdingCount]uint16{}
	md.mu.Unlock()
	err := md.sync()

	if md.handler != nil {
		if cerr := md.handler.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close Modbus handler: %w", cerr)
		}
		md.handler = nil
	}
	md.setStatus(StatusDisconnected)
	return err
}

func (md *ModbusDrive) setHolding(reg uint16, value uint16) {
	md.mu.Lock()
	md.holding[reg] = value
	md.mu.Unlock()
}

func (md *ModbusDrive) toRegister(v float64) uint16 {
	scaled := math.Round(v * md.config.Scale)
	scaled = math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled))
	return uint16(int16(scaled))
}

func (md *ModbusDrive) inputValue(reg uint16) float64 {
	md.mu.Lock()
	defer md.mu.Unlock()
	return float64(int16(md.inputs[reg])) / md.config.Scale
}

func (md *ModbusDrive) inputValue32(reg uint16) float64 {
	md.mu.Lock()
	defer md.mu.Unlock()
	v := int32(uint32(md.inputs[reg])<<16 | uint32(md.inputs[reg+1]))
	return float64(v) / md.config.Scale
}

func (md *ModbusDrive) SetDriveOutput(left, right float64) {
	md.mu.Lock()
	md.holding[regLeftOutput] = md.toRegister(clampUnit(left))
	md.holding[regRightOutput] = md.toRegister(clampUnit(right))
	md.mu.Unlock()
}

func (md *ModbusDrive) SetDriveControlMode(mode types.ControlMode) {
	md.setHolding(regControlMode, uint16(mode))
}

func (md *ModbusDrive) LeftDistance() float64  { return md.inputValue32(regLeftDistance) }
func (md *ModbusDrive) RightDistance() float64 { return md.inputValue32(regRightDistance) }
func (md *ModbusDrive) LeftRate() float64      { return md.inputValue(regLeftRate) }
func (md *ModbusDrive) RightRate() float64     { return md.inputValue(regRightRate) }
func (md *ModbusDrive) Angle() float64         { return md.inputValue(regGyroAngle) }

// 飞轮转速以 RPM 原值写入，不按 Scale 缩放
func (md *ModbusDrive) SetFlywheelSpeed(rpm float64) {
	md.mu.Lock()
	md.holding[regFlywheelMode] = flywheelModeSpeed
	md.holding[regFlywheelSetpoint] = uint16(int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(rpm)))))
	md.mu.Unlock()
}

func (md *ModbusDrive) SetFlywheelPower(power float64) {
	md.mu.Lock()
	md.holding[regFlywheelMode] = flywheelModePower
	md.holding[regFlywheelSetpoint] = md.toRegister(clampUnit(power))
	md.mu.Unlock()
}

func (md *ModbusDrive) FlywheelRate() float64 {
	md.mu.Lock()
	defer md.mu.Unlock()
	return float64(int16(md.inputs[regFlywheelRate]))
}

func (md *ModbusDrive) SetConveyorPower(power float64) {
	md.setHolding(regConveyor, md.toRegister(clampUnit(power)))
}

func (md *ModbusDrive) SetAgitatorPower(power float64) {
	md.setHolding(regAgitator, md.toRegister(clampUnit(power)))
}

// LastSync 最近一次成功同步的时间
func (md *ModbusDrive) LastSync() time.Time {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.lastSync
}
