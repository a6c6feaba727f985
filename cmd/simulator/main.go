// Command simulator plays a scripted match against simulated hardware faster than real
// time and reports where the robot ended up.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	testingclock "k8s.io/utils/clock/testing"

	"robot/internal/config"
	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/robot"
	"robot/pkg/types"
)

type Options struct {
	ConfigPath string
	Routine    string
	Autonomous time.Duration
	Teleop     time.Duration
	Targets    []float64
	Mirror     bool
	Verbose    bool
}

// Result is the state of the robot when the script ran out.
type Result struct {
	Ticks     uint64
	Elapsed   time.Duration
	Distance  float64
	Angle     float64
	Flywheel  float64
	LastStep  string
	Completed bool
	Steps     []string
}

func main() {
	var opts Options
	fs := pflag.NewFlagSet("simulator", pflag.ExitOnError)
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "Configuration file; the built-in defaults when empty.")
	fs.StringVar(&opts.Routine, "routine", "", "Autonomous routine to run.")
	fs.DurationVar(&opts.Autonomous, "autonomous", 15*time.Second, "Length of the autonomous period.")
	fs.DurationVar(&opts.Teleop, "teleop", 0, "Length of the teleop period that follows.")
	fs.Float64SliceVar(&opts.Targets, "targets", nil, "Vision target x positions reported by the camera.")
	fs.BoolVar(&opts.Mirror, "mirror", false, "Run the routine mirrored.")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log at debug level.")
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if err := logging.Init(config.LoggingConfig(cfg.Logging)); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	result, err := Simulate(context.Background(), cfg, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	fmt.Printf("routine   %s\n", cfg.Autonomous.Routine)
	fmt.Printf("steps     %v\n", result.Steps)
	fmt.Printf("finished  %t (last step %s)\n", result.Completed, result.LastStep)
	fmt.Printf("elapsed   %s over %d ticks\n", result.Elapsed, result.Ticks)
	fmt.Printf("distance  %.1f\n", result.Distance)
	fmt.Printf("angle     %.1f\n", result.Angle)
	fmt.Printf("flywheel  %.0f rpm\n", result.Flywheel)
}

// loadConfig forces the simulated backends and switches off every network surface.
func loadConfig(opts Options) (types.SystemConfig, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		cm := config.NewConfigManager(opts.ConfigPath)
		if err := cm.LoadConfig(""); err != nil {
			return cfg, err
		}
		cfg = cm.GetConfig()
	}

	cfg.Hardware.Backend = "sim"
	cfg.Hardware.Camera.Backend = "sim"
	if len(opts.Targets) > 0 {
		cfg.Hardware.Sim.Targets = opts.Targets
	}
	cfg.Telemetry.MetricsAddr = ""
	cfg.Telemetry.MQTT.Enabled = false
	if opts.Routine != "" {
		cfg.Autonomous.Routine = opts.Routine
	}
	if opts.Mirror {
		cfg.Autonomous.Mirror = true
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, config.Validate(&cfg)
}

// Simulate ticks the robot on a fake clock until the match script ends.
func Simulate(ctx context.Context, cfg types.SystemConfig, opts Options) (Result, error) {
	fake := testingclock.NewFakeClock(time.Now())
	phases := []hal.Phase{
		{Mode: types.ModeDisabled, Duration: 5 * cfg.LoopPeriod},
		{Mode: types.ModeAutonomous, Duration: opts.Autonomous},
	}
	if opts.Teleop > 0 {
		phases = append(phases, hal.Phase{Mode: types.ModeTeleop, Duration: opts.Teleop})
	}
	script := hal.NewMatchScript(phases, fake)

	r, err := robot.New(ctx, cfg, robot.WithClock(fake), robot.WithSelector(script))
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	var result Result
	start := fake.Now()
	for !script.Finished() {
		// the camera is polled inline so the run stays deterministic
		r.Vision().Periodic(r.Mode())
		r.Lifecycle().Tick(ctx)
		if routine := r.Routine(); routine != nil {
			name := routine.CurrentName()
			if len(result.Steps) == 0 || result.Steps[len(result.Steps)-1] != name {
				result.Steps = append(result.Steps, name)
			}
			result.LastStep = name
			result.Completed = routine.Done()
		}
		fake.Step(cfg.LoopPeriod)
	}
	r.Lifecycle().Tick(ctx)

	result.Ticks = r.Lifecycle().Ticks()
	result.Elapsed = fake.Since(start)
	result.Distance = r.Drive().GetDistance()
	result.Angle = r.Drive().GetAngle()
	if r.Shooter() != nil {
		result.Flywheel = r.Shooter().FlywheelRate()
	}
	return result, nil
}
