package hal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"robot/pkg/types"
)

var errBadFrame = errors.New("malformed target frame")

// SerialCamera 从串口读取视觉协处理器上报的目标帧。
//
// 每行一帧：`T <n> <x1> <y1> ... <xn> <yn>`。后台读取协程只保留最新一帧，
// PollTargets 取走该帧；两次轮询之间没有新帧时返回空结果。
type SerialCamera struct {
	link
	port io.ReadCloser

	mu      sync.Mutex
	latest  []types.Target
	pending bool
	frames  uint64
	dropped uint64

	done chan struct{}
	once sync.Once
}

// OpenSerialCamera 打开串口并启动读取协程
func OpenSerialCamera(config types.CameraConfig) (*SerialCamera, error) {
	options := serial.OpenOptions{
		PortName:        config.PortName,
		BaudRate:        uint(config.BaudRate),
		DataBits:        uint(config.DataBits),
		StopBits:        uint(config.StopBits),
		MinimumReadSize: 1,
	}
	if options.BaudRate == 0 {
		options.BaudRate = 115200
	}
	if options.DataBits == 0 {
		options.DataBits = 8
	}
	if options.StopBits == 0 {
		options.StopBits = 1
	}

	// 设置校验位
	switch config.Parity {
	case "E", "e":
		options.ParityMode = serial.PARITY_EVEN
	case "O", "o":
		options.ParityMode = serial.PARITY_ODD
	default:
		options.ParityMode = serial.PARITY_NONE
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.PortName, err)
	}
	return newSerialCamera(port), nil
}

func newSerialCamera(port io.ReadCloser) *SerialCamera {
	sc := &SerialCamera{
		link: newLink("camera"),
		port: port,
		done: make(chan struct{}),
	}
	sc.setStatus(StatusConnected)
	go sc.listen()
	return sc
}

// listen 逐行读取并解析目标帧
func (sc *SerialCamera) listen() {
	defer close(sc.done)

	scanner := bufio.NewScanner(sc.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		targets, err := parseFrame(line)
		if err != nil {
			sc.mu.Lock()
			sc.dropped++
			sc.mu.Unlock()
			sc.logger.Debug("Dropping camera line", "line", line, "error", err)
			continue
		}

		sc.mu.Lock()
		sc.latest = targets
		sc.pending = true
		sc.frames++
		sc.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		sc.fail(fmt.Errorf("serial read failed: %w", err))
		return
	}
	sc.setStatus(StatusDisconnected)
}

func parseFrame(line string) ([]types.Target, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "T" {
		return nil, errBadFrame
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad count %q", errBadFrame, fields[1])
	}
	if len(fields) != 2+2*n {
		return nil, fmt.Errorf("%w: want %d coordinates, got %d", errBadFrame, 2*n, len(fields)-2)
	}

	targets := make([]types.Target, n)
	for i := range targets {
		x, err := strconv.ParseFloat(fields[2+2*i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadFrame, err)
		}
		y, err := strconv.ParseFloat(fields[3+2*i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadFrame, err)
		}
		targets[i] = types.Target{X: x, Y: y}
	}
	return targets, nil
}

// PollTargets 取走最新一帧
func (sc *SerialCamera) PollTargets() ([]types.Target, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.pending {
		if sc.Status() == StatusError {
			return nil, sc.LastError()
		}
		return nil, nil
	}
	sc.pending = false
	return sc.latest, nil
}

// Stats 已接收与丢弃的行数
func (sc *SerialCamera) Stats() (frames, dropped uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.frames, sc.dropped
}

// Close 关闭串口并等待读取协程退出
func (sc *SerialCamera) Close() error {
	var err error
	sc.once.Do(func() {
		if cerr := sc.port.Close(); cerr != nil {
			err = fmt.Errorf("failed to close serial port: %w", cerr)
		}
		<-sc.done
	})
	return err
}
