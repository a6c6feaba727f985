package config

import (
	"time"

	"robot/pkg/types"
)

func ptr[T any](v T) *T { return &v }

// DefaultRoutine is the routine selected by DefaultConfig.
const DefaultRoutine = "boiler_shot"

// DefaultConfig is a complete simulated setup with two autonomous routines.
func DefaultConfig() types.SystemConfig {
	config := types.SystemConfig{
		LoopPeriod: 20 * time.Millisecond,
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Drive: types.DriveConfig{
			Distance:        types.PIDGains{P: 0.05, D: 0.002},
			Angle:           types.PIDGains{P: 0.03, D: 0.001},
			DistTolerance:   1.0,
			DistWindow:      3,
			AngleTolerance:  2.0,
			AngleWindow:     3,
			DefaultMaxPower: 1.0,
		},
		Vision: types.VisionConfig{
			Period:          20 * time.Millisecond,
			FreshnessWindow: 50 * time.Millisecond,
			FOVWidth:        319,
			DegreesPerUnit:  60,
		},
		Shooter: types.ShooterConfig{
			Enabled:        true,
			SpeedTolerance: 200,
			OnTargetWindow: 3,
			ShootingSpeed:  2970,
		},
		Autonomous: types.AutonomousConfig{
			Routine:     DefaultRoutine,
			RetryBudget: 3,
			Routines: map[string]types.RoutineConfig{
				DefaultRoutine: boilerShot(),
				"drive_forward": {
					Description: "Cross the baseline and stop",
					Steps: []types.StepConfig{
						{
							Name:    "cross",
							Actions: []types.ActionConfig{{Type: "pid_drive", Distance: 80, Frame: "now", MaxPower: 0.7}},
							Exit:    types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 4 * time.Second},
						},
						{
							Name:    "stop",
							Actions: []types.ActionConfig{{Type: "stop"}},
							Exit:    types.ExitConfig{Timeout: 100 * time.Millisecond},
						},
					},
				},
			},
		},
		Hardware: types.HardwareConfig{
			Backend: "sim",
			Camera:  types.CameraConfig{Backend: "sim"},
			Sim: types.SimConfig{
				MaxSpeed:    120,
				TrackWidth:  24,
				FlywheelMax: 6000,
				Targets:     []float64{150, 176},
			},
		},
		Telemetry: types.TelemetryConfig{
			PublishRate: 10,
			MetricsAddr: ":9100",
			MQTT: types.MQTTConfig{
				BrokerURL: "mqtt://localhost:1883",
				Topic:     "robot",
				KeepAlive: 30,
			},
		},
		ModeSelect: types.ModeSelectConfig{
			Source:  "manual",
			Initial: "disabled",
			Topic:   "mode",
			Script: []types.MatchPhase{
				{Mode: "disabled", Duration: time.Second},
				{Mode: "autonomous", Duration: 15 * time.Second},
				{Mode: "teleop", Duration: 135 * time.Second},
			},
		},
	}
	return config
}

// boilerShot backs away from the wall while spinning up, turns to the boiler, fine-aligns
// on the vision target and empties the hopper.
func boilerShot() types.RoutineConfig {
	return types.RoutineConfig{
		Description: "Back off, turn to the boiler, align on vision and shoot",
		Steps: []types.StepConfig{
			{
				Name: "spin_up_and_back",
				Actions: []types.ActionConfig{
					{Type: "shooter_speed", Value: 3100},
					{Type: "pid_drive", Distance: -40, Frame: "now", MaxPower: 1},
				},
				Exit: types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 2500 * time.Millisecond},
			},
			{
				Name: "turn_to_boiler",
				Actions: []types.ActionConfig{
					{Type: "pid_turn", Angle: -55, Frame: "absolute", MaxPower: 1, AngleTolerance: ptr(15.0), AngleWindow: ptr(4)},
				},
				Exit: types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 2 * time.Second},
			},
			{
				Name:      "wait_for_target",
				Actions:   []types.ActionConfig{{Type: "stop"}},
				Exit:      types.ExitConfig{Conditions: []string{"vision_fresh"}, Timeout: time.Second},
				OnTimeout: ptr(4),
			},
			{
				Name: "vision_align",
				Actions: []types.ActionConfig{
					{Type: "vision_turn", MaxCorrection: 10, MaxPower: 0.6, AngleTolerance: ptr(1.0), AngleWindow: ptr(3)},
				},
				Exit: types.ExitConfig{Conditions: []string{"drive_on_target"}, Timeout: 1500 * time.Millisecond},
			},
			{
				Name:    "shoot",
				Actions: []types.ActionConfig{{Type: "shooter_state", State: "shooting"}},
				Exit:    types.ExitConfig{Timeout: 8 * time.Second},
			},
			{
				Name: "finish",
				Actions: []types.ActionConfig{
					{Type: "shooter_state", State: "idle"},
					{Type: "shooter_stop"},
					{Type: "stop"},
				},
				Exit: types.ExitConfig{Timeout: 100 * time.Millisecond},
			},
		},
	}
}
