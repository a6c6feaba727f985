// Package auto implements the autonomous step sequencer and builds its step tables from
// routine configuration.
package auto

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"robot/internal/logging"
	"robot/internal/metrics"
	"robot/internal/telemetry"
)

// End as a step target finishes the routine.
const End = -1

// DefaultRetryBudget is used for steps that carry no budget of their own.
const DefaultRetryBudget = 3

var ErrInvalidStep = errors.New("invalid step")

// Step is one entry of a routine. Enter runs exactly once each time the step becomes
// current. The step ends when Condition holds (go to Next) or when Timeout has elapsed
// since entry (go to OnTimeout, or Next when unset).
//
// A transition to the same or an earlier step is a retry and spends one unit of
// the step's RetryBudget (zero means the sequencer default). Once the budget is spent the
// transition goes to OnExhausted instead, or ends the routine when unset.
type Step struct {
	Name        string
	Enter       func()
	Condition   func() bool
	Timeout     time.Duration
	Next        int
	OnTimeout   *int
	OnExhausted *int
	RetryBudget int
}

// Goto returns a pointer to target, for OnTimeout and OnExhausted.
func Goto(target int) *int { return &target }

type Sequencer struct {
	name   string
	steps  []Step
	clock  clock.PassiveClock
	budget int
	sink   telemetry.Sink

	current  int
	entered  time.Time
	retries  []int
	started  bool
	done     bool
	onFinish func()

	logger *logging.Logger
}

type Option func(*Sequencer)

func WithClock(c clock.PassiveClock) Option {
	return func(s *Sequencer) { s.clock = c }
}

func WithRetryBudget(n int) Option {
	return func(s *Sequencer) { s.budget = n }
}

func WithSink(sink telemetry.Sink) Option {
	return func(s *Sequencer) { s.sink = sink }
}

// WithFinish registers a callback run once when the routine reaches End.
func WithFinish(fn func()) Option {
	return func(s *Sequencer) { s.onFinish = fn }
}

// New validates steps and returns a sequencer positioned before step 0.
func New(name string, steps []Step, opts ...Option) (*Sequencer, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("routine %s: %w: no steps", name, ErrInvalidStep)
	}
	valid := func(target int) bool { return target == End || (target >= 0 && target < len(steps)) }
	for i, st := range steps {
		if st.Timeout <= 0 {
			return nil, fmt.Errorf("routine %s step %d: %w: timeout must be positive", name, i, ErrInvalidStep)
		}
		if !valid(st.Next) {
			return nil, fmt.Errorf("routine %s step %d: %w: next %d out of range", name, i, ErrInvalidStep, st.Next)
		}
		if st.OnTimeout != nil && !valid(*st.OnTimeout) {
			return nil, fmt.Errorf("routine %s step %d: %w: on_timeout %d out of range", name, i, ErrInvalidStep, *st.OnTimeout)
		}
		if st.OnExhausted != nil && !valid(*st.OnExhausted) {
			return nil, fmt.Errorf("routine %s step %d: %w: on_exhausted %d out of range", name, i, ErrInvalidStep, *st.OnExhausted)
		}
		// an exhausted step must leave the loop it was retrying
		if st.OnExhausted != nil && *st.OnExhausted != End && *st.OnExhausted <= i {
			return nil, fmt.Errorf("routine %s step %d: %w: on_exhausted %d must point past the step", name, i, ErrInvalidStep, *st.OnExhausted)
		}
		if st.RetryBudget < 0 {
			return nil, fmt.Errorf("routine %s step %d: %w: negative retry budget", name, i, ErrInvalidStep)
		}
	}

	s := &Sequencer{
		name:    name,
		steps:   steps,
		clock:   clock.RealClock{},
		budget:  DefaultRetryBudget,
		sink:    telemetry.Discard,
		retries: make([]int, len(steps)),
		logger:  logging.GetLogger("auto").With("routine", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sequencer) Name() string { return s.name }

// Start resets the retry counters and enters step 0.
func (s *Sequencer) Start() {
	for i := range s.retries {
		s.retries[i] = 0
	}
	s.started = true
	s.done = false
	s.logger.Info("Routine started", "steps", len(s.steps))
	s.enter(0)
}

// Tick evaluates the current step's exit race once.
func (s *Sequencer) Tick() {
	if !s.started || s.done {
		return
	}

	step := s.steps[s.current]
	if step.Condition != nil && step.Condition() {
		s.transition(step.Next, "condition")
		return
	}

	if s.clock.Since(s.entered) > step.Timeout {
		target := step.Next
		if step.OnTimeout != nil {
			target = *step.OnTimeout
		}
		s.transition(target, "timeout")
	}
}

func (s *Sequencer) transition(target int, reason string) {
	from := s.current
	step := s.steps[from]

	if target != End && target <= from {
		budget := step.RetryBudget
		if budget == 0 {
			budget = s.budget
		}
		if s.retries[from] >= budget {
			target = End
			if step.OnExhausted != nil {
				target = *step.OnExhausted
			}
			reason = "exhausted"
			s.logger.Warn("Retry budget exhausted", "step", from, "name", step.Name, "budget", budget)
		} else {
			s.retries[from]++
			reason = "retry"
		}
	}

	metrics.StepTransitions.WithLabelValues(s.name, reason).Inc()
	s.logger.Info("Step transition", "from", from, "to", target, "reason", reason,
		"elapsed", s.clock.Since(s.entered))

	if target == End {
		s.finish()
		return
	}
	s.enter(target)
}

func (s *Sequencer) enter(i int) {
	s.current = i
	s.entered = s.clock.Now()
	s.sink.Push("auto.step", i)
	s.sink.Push("auto.step_name", s.steps[i].Name)
	if s.steps[i].Enter != nil {
		s.steps[i].Enter()
	}
}

func (s *Sequencer) finish() {
	s.done = true
	s.sink.Push("auto.done", true)
	s.logger.Info("Routine finished", "step", s.current)
	if s.onFinish != nil {
		s.onFinish()
	}
}

// Halt stops evaluation without running the finish callback.
func (s *Sequencer) Halt() {
	if s.started && !s.done {
		s.logger.Info("Routine halted", "step", s.current)
	}
	s.done = true
}

// Current is the index of the current step. It stays on the last step after End.
func (s *Sequencer) Current() int { return s.current }

func (s *Sequencer) CurrentName() string { return s.steps[s.current].Name }

func (s *Sequencer) Done() bool { return s.done }

// Retries reports how many retries step i has spent since Start.
func (s *Sequencer) Retries(i int) int {
	if i < 0 || i >= len(s.retries) {
		return 0
	}
	return s.retries[i]
}
