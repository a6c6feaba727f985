package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"robot/cmd/robot/app/options"
	"robot/internal/auto"
	"robot/internal/config"
	"robot/internal/drive"
	"robot/internal/hal"
	"robot/internal/logging"
	"robot/internal/robot"
	"robot/internal/subsystems"
	"robot/internal/vision"
	"robot/pkg/types"
)

var version = "dev"

func NewRobotCommand(ctx context.Context) *cobra.Command {
	opts := options.NewRobotOptions()
	cmd := &cobra.Command{
		Use:           "robot",
		Short:         "Cooperative robot controller",
		Long:          "robot runs the drive, shooter and vision loops of a competition robot and sequences its autonomous routines.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newRunCommand(ctx, opts),
		newRoutinesCommand(opts),
		newConfigCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("robot version %s\n", version)
			},
		},
	)
	return cmd
}

func newRunCommand(ctx context.Context, opts *options.RobotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRobot(ctx, opts)
		},
	}
	cmd.Flags().AddFlagSet(opts.Flags())
	return cmd
}

func runRobot(ctx context.Context, opts *options.RobotOptions) error {
	cm, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()
	if err := applyOverrides(&cfg, opts); err != nil {
		return err
	}

	if err := logging.Init(config.LoggingConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logging.GetManager().Close()
	logger := logging.GetLogger("main")

	r, err := robot.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to create robot", "error", err)
		return err
	}
	defer r.Close()

	if opts.Watch {
		if err := cm.WatchChanges(func(c types.SystemConfig) {
			if err := applyOverrides(&c, opts); err != nil {
				logger.Warn("Ignoring reloaded configuration", "error", err)
				return
			}
			r.UpdateConfig(c)
		}); err != nil {
			return err
		}
		if err := cm.StartWatching(ctx); err != nil {
			logger.Warn("Config watcher unavailable", "error", err)
		} else {
			defer cm.StopWatching()
		}
	}

	logger.Info("Starting robot",
		"config", cm.GetConfigPath(),
		"routine", cfg.Autonomous.Routine,
		"hardware", cfg.Hardware.Backend,
		"mode_source", cfg.ModeSelect.Source)
	if err := r.Run(ctx); err != nil {
		logger.Error("Robot stopped with error", "error", err)
		return err
	}
	logger.Info("Robot stopped")
	return nil
}

// loadConfig reads the configuration file, writing the default one first when it is
// missing and CreateDefault is set.
func loadConfig(opts *options.RobotOptions) (*config.ConfigManager, error) {
	cm := config.NewConfigManager(opts.ConfigPath)
	err := cm.LoadConfig("")
	if err == nil {
		return cm, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || !opts.CreateDefault {
		return nil, err
	}
	if err := cm.CreateDefaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to create default config: %w", err)
	}
	return cm, nil
}

// applyOverrides puts the command line flags on top of cfg and validates the result.
func applyOverrides(cfg *types.SystemConfig, opts *options.RobotOptions) error {
	if opts.Routine != "" {
		cfg.Autonomous.Routine = opts.Routine
	}
	if opts.ModeSource != "" {
		cfg.ModeSelect.Source = opts.ModeSource
	}
	if opts.MetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = opts.MetricsAddr
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	return config.Validate(cfg)
}

func newRoutinesCommand(opts *options.RobotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routines",
		Short: "List the configured autonomous routines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(opts)
			if err != nil {
				return err
			}
			for _, name := range config.RoutineNames(cfg) {
				marker := " "
				if name == cfg.Autonomous.Routine {
					marker = "*"
				}
				routine := cfg.Autonomous.Routines[name]
				cmd.Printf("%s %-20s %2d steps  %s\n", marker, name, len(routine.Steps), routine.Description)
			}
			return nil
		},
	}
	opts.AddConfigFlag(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "check [name...]",
		Short: "Build routines against simulated hardware to catch bad actions and conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(opts)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = config.RoutineNames(cfg)
			}
			var errs []error
			for _, name := range names {
				if err := checkRoutine(cfg, name); err != nil {
					cmd.Printf("FAIL %s: %v\n", name, err)
					errs = append(errs, err)
					continue
				}
				cmd.Printf("ok   %s\n", name)
			}
			return errors.Join(errs...)
		},
	})
	return cmd
}

func checkRoutine(cfg types.SystemConfig, name string) error {
	sim := hal.NewSimDrivetrain(cfg.Hardware.Sim)
	env := auto.Env{
		Drive:  drive.NewController(sim, sim, cfg.Drive),
		Vision: vision.NewTracker(hal.NewSimCamera(nil), cfg.Vision),
	}
	if cfg.Shooter.Enabled {
		env.Shooter = subsystems.NewShooter(hal.NewSimFlywheel(cfg.Hardware.Sim.FlywheelMax), cfg.Shooter)
	}
	_, err := auto.Load(name, cfg.Autonomous, env)
	return err
}

func newConfigCommand(opts *options.RobotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	opts.AddConfigFlag(cmd.PersistentFlags())

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cm := config.NewConfigManager(opts.ConfigPath)
			if !force {
				if err := cm.LoadConfig(""); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", opts.ConfigPath)
				}
			}
			if err := cm.CreateDefaultConfig(); err != nil {
				return err
			}
			cmd.Printf("Wrote default configuration to %s\n", opts.ConfigPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file.")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults filled in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(opts)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// readConfig loads the file without creating it.
func readConfig(opts *options.RobotOptions) (types.SystemConfig, error) {
	cm := config.NewConfigManager(opts.ConfigPath)
	if err := cm.LoadConfig(""); err != nil {
		return types.SystemConfig{}, err
	}
	return cm.GetConfig(), nil
}
