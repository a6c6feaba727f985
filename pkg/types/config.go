package types

import "time"

// SystemConfig is the root of the YAML configuration file.
type SystemConfig struct {
	LoopPeriod time.Duration    `yaml:"loop_period"`
	Logging    LoggingConfig    `yaml:"logging"`
	Drive      DriveConfig      `yaml:"drive"`
	Vision     VisionConfig     `yaml:"vision"`
	Shooter    ShooterConfig    `yaml:"shooter"`
	Autonomous AutonomousConfig `yaml:"autonomous"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	ModeSelect ModeSelectConfig `yaml:"mode_select"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	OutputPath string `yaml:"output_path"`
	AddSource  bool   `yaml:"add_source"`
}

type PIDGains struct {
	P float64 `yaml:"p"`
	I float64 `yaml:"i"`
	D float64 `yaml:"d"`
	// IZone bounds the accumulated integral term; zero disables the bound.
	IZone float64 `yaml:"i_zone"`
}

type DriveConfig struct {
	Distance        PIDGains `yaml:"distance"`
	Angle           PIDGains `yaml:"angle"`
	DistTolerance   float64  `yaml:"dist_tolerance"`
	DistWindow      int      `yaml:"dist_window"`
	AngleTolerance  float64  `yaml:"angle_tolerance"`
	AngleWindow     int      `yaml:"angle_window"`
	DefaultMaxPower float64  `yaml:"default_max_power"`
}

type VisionConfig struct {
	Period          time.Duration `yaml:"period"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	FOVWidth        float64       `yaml:"fov_width"`
	DegreesPerUnit  float64       `yaml:"degrees_per_unit"`
}

type ShooterConfig struct {
	Enabled        bool    `yaml:"enabled"`
	SpeedTolerance float64 `yaml:"speed_tolerance"`
	OnTargetWindow int     `yaml:"on_target_window"`
	ShootingSpeed  float64 `yaml:"shooting_speed"`
}

type AutonomousConfig struct {
	Routine     string                   `yaml:"routine"`
	Mirror      bool                     `yaml:"mirror"`
	RetryBudget int                      `yaml:"retry_budget"`
	Routines    map[string]RoutineConfig `yaml:"routines"`
}

type RoutineConfig struct {
	Description string       `yaml:"description"`
	Steps       []StepConfig `yaml:"steps"`
}

// StepConfig describes one sequencer step. Targets are step indexes; -1 ends the routine.
// A nil Next means the following step (or the end after the last one).
type StepConfig struct {
	Name        string         `yaml:"name"`
	Actions     []ActionConfig `yaml:"actions"`
	Exit        ExitConfig     `yaml:"exit"`
	Next        *int           `yaml:"next,omitempty"`
	OnTimeout   *int           `yaml:"on_timeout,omitempty"`
	OnExhausted *int           `yaml:"on_exhausted,omitempty"`
	RetryBudget *int           `yaml:"retry_budget,omitempty"`
}

type ActionConfig struct {
	Type           string   `yaml:"type"`
	Distance       float64  `yaml:"distance,omitempty"`
	Heading        float64  `yaml:"heading,omitempty"`
	Angle          float64  `yaml:"angle,omitempty"`
	Throttle       float64  `yaml:"throttle,omitempty"`
	Turn           float64  `yaml:"turn,omitempty"`
	Frame          string   `yaml:"frame,omitempty"`
	MaxPower       float64  `yaml:"max_power,omitempty"`
	Value          float64  `yaml:"value,omitempty"`
	State          string   `yaml:"state,omitempty"`
	MaxCorrection  float64  `yaml:"max_correction,omitempty"`
	DistTolerance  *float64 `yaml:"dist_tolerance,omitempty"`
	DistWindow     *int     `yaml:"dist_window,omitempty"`
	AngleTolerance *float64 `yaml:"angle_tolerance,omitempty"`
	AngleWindow    *int     `yaml:"angle_window,omitempty"`
}

// ExitConfig is the precise part of a step's exit race; all conditions must hold.
// With no conditions the step only ends on its timeout.
type ExitConfig struct {
	Conditions []string      `yaml:"conditions,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

type HardwareConfig struct {
	Backend string       `yaml:"backend"`
	Modbus  ModbusConfig `yaml:"modbus"`
	Camera  CameraConfig `yaml:"camera"`
	Sim     SimConfig    `yaml:"sim"`
}

type ModbusConfig struct {
	Type          string        `yaml:"type"`
	Address       string        `yaml:"address"`
	Port          int           `yaml:"port"`
	BaudRate      int           `yaml:"baud_rate"`
	DataBits      int           `yaml:"data_bits"`
	StopBits      int           `yaml:"stop_bits"`
	Parity        string        `yaml:"parity"`
	SlaveID       byte          `yaml:"slave_id"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	// Period is how often outputs are flushed and sensors are read back.
	Period time.Duration `yaml:"period"`
	// Scale converts between engineering units and the signed 16-bit register values.
	Scale float64 `yaml:"scale"`
}

type CameraConfig struct {
	Backend  string `yaml:"backend"`
	PortName string `yaml:"port_name"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

type SimConfig struct {
	MaxSpeed    float64   `yaml:"max_speed"`
	TrackWidth  float64   `yaml:"track_width"`
	FlywheelMax float64   `yaml:"flywheel_max"`
	Targets     []float64 `yaml:"targets"`
}

type TelemetryConfig struct {
	MQTT        MQTTConfig `yaml:"mqtt"`
	PublishRate float64    `yaml:"publish_rate"`
	MetricsAddr string     `yaml:"metrics_addr"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BrokerURL      string        `yaml:"broker_url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	KeepAlive      uint16        `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type ModeSelectConfig struct {
	Source  string       `yaml:"source"`
	Initial string       `yaml:"initial"`
	Topic   string       `yaml:"topic"`
	Script  []MatchPhase `yaml:"script"`
}

type MatchPhase struct {
	Mode     string        `yaml:"mode"`
	Duration time.Duration `yaml:"duration"`
}
