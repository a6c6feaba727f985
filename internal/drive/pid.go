package drive

import (
	"math"

	"robot/pkg/types"
)

// PID is a positional PID loop. The integral only accumulates while the error is inside
// IZone (when IZone is set) and is cleared outside it.
type PID struct {
	gains    types.PIDGains
	integral float64
	prevErr  float64
	hasPrev  bool
}

func NewPID(gains types.PIDGains) *PID {
	return &PID{gains: gains}
}

// Update returns the loop output for err after dt seconds.
func (p *PID) Update(err, dt float64) float64 {
	if p.gains.IZone <= 0 || math.Abs(err) < p.gains.IZone {
		p.integral += err * dt
	} else {
		p.integral = 0
	}

	var derivative float64
	if p.hasPrev && dt > 0 {
		derivative = (err - p.prevErr) / dt
	}
	p.prevErr = err
	p.hasPrev = true

	return p.gains.P*err + p.gains.I*p.integral + p.gains.D*derivative
}

func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.hasPrev = false
}

func (p *PID) SetGains(gains types.PIDGains) {
	p.gains = gains
}
