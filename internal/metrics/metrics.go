// Package metrics holds the prometheus collectors exported by the robot controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every collector below is registered with.
var Registry = prometheus.NewRegistry()

var (
	// TickDuration records how long one scheduler tick took, per scheduler.
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robot_scheduler_tick_seconds",
			Help:    "Duration of one cooperative scheduler tick.",
			Buckets: []float64{.0005, .001, .002, .005, .01, .015, .02, .03, .05, .1},
		},
		[]string{"scheduler"},
	)

	// TickOverruns counts ticks that took longer than the scheduler period.
	TickOverruns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robot_scheduler_tick_overruns_total",
			Help: "Ticks whose duration exceeded the scheduler period.",
		},
		[]string{"scheduler"},
	)

	// ModeTransitions counts lifecycle transitions by destination mode.
	ModeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robot_mode_transitions_total",
			Help: "Operating mode transitions performed by the lifecycle controller.",
		},
		[]string{"from", "to"},
	)

	// StepTransitions counts sequencer step transitions, split by what ended the step.
	StepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robot_auto_step_transitions_total",
			Help: "Autonomous step transitions (reason: condition, timeout, retry, exhausted).",
		},
		[]string{"routine", "reason"},
	)

	// DriveOnTarget is 1 while the drive controller reports convergence.
	DriveOnTarget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robot_drive_on_target",
			Help: "1 while the active closed-loop drive command is on target.",
		},
	)

	// VisionFresh is 1 while the vision reading is inside its freshness window.
	VisionFresh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robot_vision_fresh",
			Help: "1 while the latest vision reading is fresh.",
		},
	)
)

func init() {
	Registry.MustRegister(TickDuration)
	Registry.MustRegister(TickOverruns)
	Registry.MustRegister(ModeTransitions)
	Registry.MustRegister(StepTransitions)
	Registry.MustRegister(DriveOnTarget)
	Registry.MustRegister(VisionFresh)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
