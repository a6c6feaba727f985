package options

import (
	"github.com/spf13/pflag"
)

type RobotOptions struct {
	ConfigPath    string
	Routine       string
	ModeSource    string
	MetricsAddr   string
	LogLevel      string
	CreateDefault bool
	Watch         bool
}

func NewRobotOptions() *RobotOptions {
	return &RobotOptions{
		ConfigPath:    "configs/robot.yaml",
		CreateDefault: true,
		Watch:         true,
	}
}

// Flags returns the flags of the run command. Empty overrides keep the file's value.
func (o *RobotOptions) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	o.AddConfigFlag(fs)
	fs.StringVar(&o.Routine, "routine", o.Routine, "Autonomous routine to run, overriding autonomous.routine.")
	fs.StringVar(&o.ModeSource, "mode-source", o.ModeSource, "Where the operating mode comes from: manual, mqtt or script.")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "The TCP address to serve prometheus metrics on.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn or error.")
	fs.BoolVar(&o.CreateDefault, "create-default", o.CreateDefault, "Write the default configuration when the file is missing.")
	fs.BoolVar(&o.Watch, "watch", o.Watch, "Reload tunables when the configuration file changes.")
	return fs
}

func (o *RobotOptions) AddConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Path to the YAML configuration file.")
}
