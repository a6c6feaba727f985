package hal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"robot/pkg/types"
)

// ManualModeSelector 由操作员（CLI、MQTT）直接设置的模式信号
type ManualModeSelector struct {
	mode atomic.Int32
}

func NewManualModeSelector(initial types.OperatingMode) *ManualModeSelector {
	s := &ManualModeSelector{}
	s.Set(initial)
	return s
}

func (s *ManualModeSelector) Set(mode types.OperatingMode) {
	s.mode.Store(int32(mode))
}

func (s *ManualModeSelector) SampleMode() types.OperatingMode {
	return types.OperatingMode(s.mode.Load())
}

// Phase 比赛脚本中的一个阶段
type Phase struct {
	Mode     types.OperatingMode
	Duration time.Duration
}

// MatchScript 按时间表依次切换模式，模拟比赛场控。
// 计时从第一次采样开始，脚本结束后保持 disabled。
type MatchScript struct {
	phases []Phase
	clock  clock.PassiveClock

	mu      sync.Mutex
	started time.Time
}

func NewMatchScript(phases []Phase, c clock.PassiveClock) *MatchScript {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MatchScript{phases: phases, clock: c}
}

// ParseMatchScript 将配置中的阶段转换为脚本
func ParseMatchScript(config []types.MatchPhase, c clock.PassiveClock) (*MatchScript, error) {
	phases := make([]Phase, 0, len(config))
	for i, p := range config {
		mode, err := types.ParseMode(p.Mode)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		if p.Duration <= 0 {
			return nil, fmt.Errorf("phase %d: duration must be positive", i)
		}
		phases = append(phases, Phase{Mode: mode, Duration: p.Duration})
	}
	return NewMatchScript(phases, c), nil
}

func (ms *MatchScript) SampleMode() types.OperatingMode {
	mode, _ := ms.sample()
	return mode
}

// Finished 脚本是否已全部走完
func (ms *MatchScript) Finished() bool {
	_, done := ms.sample()
	return done
}

// Length 脚本总时长
func (ms *MatchScript) Length() time.Duration {
	var total time.Duration
	for _, p := range ms.phases {
		total += p.Duration
	}
	return total
}

func (ms *MatchScript) sample() (types.OperatingMode, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.started.IsZero() {
		ms.started = ms.clock.Now()
	}
	elapsed := ms.clock.Since(ms.started)
	for _, p := range ms.phases {
		if elapsed < p.Duration {
			return p.Mode, false
		}
		elapsed -= p.Duration
	}
	return types.ModeDisabled, true
}
