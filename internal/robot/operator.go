package robot

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"robot/internal/telemetry"
)

// DeadmanTimeout is how long an operator request stays valid without a refresh.
const DeadmanTimeout = 500 * time.Millisecond

// Operator holds the latest teleop stick request. A request older than DeadmanTimeout
// reads as centered so a lost link stops the robot.
type Operator struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	stick   telemetry.Stick
	updated time.Time
}

func NewOperator(c clock.PassiveClock) *Operator {
	return &Operator{clock: c}
}

func (o *Operator) SetStick(stick telemetry.Stick) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stick = stick
	o.updated = o.clock.Now()
}

// Stick returns the live request, or zero when it has expired.
func (o *Operator) Stick() telemetry.Stick {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.updated.IsZero() || o.clock.Since(o.updated) > DeadmanTimeout {
		return telemetry.Stick{}
	}
	return o.stick
}

// Reset drops any pending request.
func (o *Operator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stick = telemetry.Stick{}
	o.updated = time.Time{}
}
