// Package config provides YAML-based configuration management with hot-reload. It loads,
// validates and saves the robot's SystemConfig and notifies watchers when the file changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"robot/internal/logging"
	"robot/pkg/types"
)

var ErrInvalidConfig = errors.New("invalid config")

type ConfigManager struct {
	config       types.SystemConfig
	configPath   string
	configLock   sync.RWMutex
	watchers     []func(types.SystemConfig)
	watchersLock sync.RWMutex
	lastModified time.Time
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	watching     bool
	logger       *logging.Logger
}

func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
		watchers:   make([]func(types.SystemConfig), 0),
		logger:     logging.GetLogger("config_manager"),
	}
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (types.SystemConfig, error) {
	var config types.SystemConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := Validate(&config); err != nil {
		return config, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (cm *ConfigManager) LoadConfig(path string) error {
	if path != "" {
		cm.configPath = path
	}

	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return err
	}

	cm.config = config
	cm.lastModified = time.Now()

	cm.logger.Info("Configuration loaded", "config_path", cm.configPath)
	return nil
}

func (cm *ConfigManager) Reload() error {
	return cm.LoadConfig(cm.configPath)
}

func (cm *ConfigManager) GetConfig() types.SystemConfig {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.config
}

func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}

func (cm *ConfigManager) LastModified() time.Time {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.lastModified
}

// SetConfig validates config, writes it to the config path and notifies watchers.
func (cm *ConfigManager) SetConfig(config types.SystemConfig) error {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	if err := Validate(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := writeConfig(cm.configPath, config); err != nil {
		return err
	}

	cm.config = config
	cm.lastModified = time.Now()

	go cm.notifyWatchers(config)
	cm.logger.Info("Configuration updated and saved", "config_path", cm.configPath)
	return nil
}

// ExportConfig writes the current configuration to path.
func (cm *ConfigManager) ExportConfig(path string) error {
	return writeConfig(path, cm.GetConfig())
}

func writeConfig(path string, config types.SystemConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateDefaultConfig writes DefaultConfig to the config path.
func (cm *ConfigManager) CreateDefaultConfig() error {
	return cm.SetConfig(DefaultConfig())
}

func (cm *ConfigManager) WatchChanges(callback func(types.SystemConfig)) error {
	if callback == nil {
		return errors.New("watch callback cannot be nil")
	}
	cm.watchersLock.Lock()
	defer cm.watchersLock.Unlock()

	cm.watchers = append(cm.watchers, callback)
	return nil
}

// StartWatching reloads the file whenever it is written, created or renamed into place.
// The parent directory is watched so editors that replace the file are seen too.
func (cm *ConfigManager) StartWatching(ctx context.Context) error {
	if cm.watching {
		return fmt.Errorf("config watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	dir := filepath.Dir(cm.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	cm.ctx, cm.cancel = context.WithCancel(ctx)
	cm.watching = true

	cm.wg.Add(1)
	go cm.watchFile(watcher)

	cm.logger.Info("Started watching config file", "config_path", cm.configPath)
	return nil
}

func (cm *ConfigManager) StopWatching() error {
	if !cm.watching {
		return fmt.Errorf("config watcher is not running")
	}

	cm.cancel()
	cm.wg.Wait()
	cm.watching = false

	cm.logger.Info("Stopped watching config file")
	return nil
}

func (cm *ConfigManager) watchFile(watcher *fsnotify.Watcher) {
	defer cm.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(cm.configPath)
	for {
		select {
		case <-cm.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cm.reloadAndNotify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("Config watcher error", "error", err)
		}
	}
}

func (cm *ConfigManager) reloadAndNotify() {
	if _, err := os.Stat(cm.configPath); err != nil {
		return
	}
	cm.logger.Info("Config file modified, reloading...")
	if err := cm.Reload(); err != nil {
		cm.logger.Error("Failed to reload config, keeping previous", "error", err)
		return
	}
	cm.notifyWatchers(cm.GetConfig())
}

func (cm *ConfigManager) notifyWatchers(config types.SystemConfig) {
	cm.watchersLock.RLock()
	watchers := make([]func(types.SystemConfig), len(cm.watchers))
	copy(watchers, cm.watchers)
	cm.watchersLock.RUnlock()

	for _, watcher := range watchers {
		watcher(config)
	}
}

// RoutineNames lists the configured autonomous routines in name order.
func RoutineNames(config types.SystemConfig) []string {
	names := make([]string, 0, len(config.Autonomous.Routines))
	for name := range config.Autonomous.Routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoggingConfig converts the logging section for logging.Init.
func LoggingConfig(config types.LoggingConfig) *logging.Config {
	return &logging.Config{
		Level:      config.Level,
		Format:     config.Format,
		Output:     config.Output,
		OutputPath: config.OutputPath,
		AddSource:  config.AddSource,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate fills defaults in place and rejects values no component can run with.
func Validate(config *types.SystemConfig) error {
	if config.LoopPeriod <= 0 {
		config.LoopPeriod = 20 * time.Millisecond
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	if err := validateDrive(&config.Drive); err != nil {
		return err
	}
	if err := validateVision(&config.Vision); err != nil {
		return err
	}
	if err := validateShooter(&config.Shooter); err != nil {
		return err
	}
	if err := validateAutonomous(&config.Autonomous); err != nil {
		return err
	}
	if err := validateHardware(&config.Hardware); err != nil {
		return err
	}
	if err := validateTelemetry(&config.Telemetry); err != nil {
		return err
	}
	return validateModeSelect(&config.ModeSelect)
}

func validateDrive(d *types.DriveConfig) error {
	if d.Distance == (types.PIDGains{}) {
		d.Distance = types.PIDGains{P: 0.05, D: 0.002}
	}
	if d.Angle == (types.PIDGains{}) {
		d.Angle = types.PIDGains{P: 0.03, D: 0.001}
	}
	if d.DistTolerance <= 0 {
		d.DistTolerance = 1.0
	}
	if d.AngleTolerance <= 0 {
		d.AngleTolerance = 2.0
	}
	if d.DistWindow <= 0 {
		d.DistWindow = 3
	}
	if d.AngleWindow <= 0 {
		d.AngleWindow = 3
	}
	if d.DefaultMaxPower == 0 {
		d.DefaultMaxPower = 1.0
	}
	if d.DefaultMaxPower < 0 || d.DefaultMaxPower > 1 {
		return invalid("drive.default_max_power %v outside (0, 1]", d.DefaultMaxPower)
	}
	return nil
}

func validateVision(v *types.VisionConfig) error {
	if v.Period <= 0 {
		v.Period = 20 * time.Millisecond
	}
	if v.FreshnessWindow <= 0 {
		v.FreshnessWindow = 50 * time.Millisecond
	}
	if v.FOVWidth == 0 {
		v.FOVWidth = 319
	}
	if v.FOVWidth < 0 {
		return invalid("vision.fov_width must be positive")
	}
	if v.DegreesPerUnit == 0 {
		v.DegreesPerUnit = 60
	}
	return nil
}

func validateShooter(s *types.ShooterConfig) error {
	if s.SpeedTolerance <= 0 {
		s.SpeedTolerance = 200
	}
	if s.OnTargetWindow <= 0 {
		s.OnTargetWindow = 3
	}
	if s.ShootingSpeed == 0 {
		s.ShootingSpeed = 2970
	}
	return nil
}

func validateAutonomous(a *types.AutonomousConfig) error {
	if a.RetryBudget < 0 {
		return invalid("autonomous.retry_budget must not be negative")
	}
	if a.RetryBudget == 0 {
		a.RetryBudget = 3
	}
	if a.Routine != "" {
		if _, ok := a.Routines[a.Routine]; !ok {
			return invalid("autonomous.routine %q is not defined", a.Routine)
		}
	}
	for name, routine := range a.Routines {
		if len(routine.Steps) == 0 {
			return invalid("routine %s has no steps", name)
		}
		for i, step := range routine.Steps {
			if step.Exit.Timeout <= 0 {
				return invalid("routine %s step %d: exit.timeout must be positive", name, i)
			}
		}
	}
	return nil
}

func validateHardware(h *types.HardwareConfig) error {
	switch strings.ToLower(h.Backend) {
	case "":
		h.Backend = "sim"
	case "sim":
	case "modbus":
		if h.Modbus.Address == "" {
			return invalid("hardware.modbus.address is required")
		}
		if h.Modbus.Type == "" {
			h.Modbus.Type = "tcp"
		}
		if h.Modbus.Type == "tcp" && h.Modbus.Port == 0 {
			h.Modbus.Port = 502
		}
	default:
		return invalid("unsupported hardware.backend %q", h.Backend)
	}

	switch strings.ToLower(h.Camera.Backend) {
	case "":
		h.Camera.Backend = "sim"
	case "sim":
	case "serial":
		if h.Camera.PortName == "" {
			return invalid("hardware.camera.port_name is required")
		}
	default:
		return invalid("unsupported hardware.camera.backend %q", h.Camera.Backend)
	}
	return nil
}

func validateTelemetry(t *types.TelemetryConfig) error {
	if t.PublishRate < 0 {
		return invalid("telemetry.publish_rate must not be negative")
	}
	if t.PublishRate == 0 {
		t.PublishRate = 10
	}
	if t.MQTT.Enabled && t.MQTT.BrokerURL == "" {
		return invalid("telemetry.mqtt.broker_url is required when mqtt is enabled")
	}
	if t.MQTT.Topic == "" {
		t.MQTT.Topic = "robot"
	}
	return nil
}

func validateModeSelect(m *types.ModeSelectConfig) error {
	if m.Initial == "" {
		m.Initial = types.ModeDisabled.String()
	}
	if _, err := types.ParseMode(m.Initial); err != nil {
		return invalid("mode_select.initial: %v", err)
	}

	switch strings.ToLower(m.Source) {
	case "":
		m.Source = "manual"
	case "manual", "mqtt":
	case "script":
		if len(m.Script) == 0 {
			return invalid("mode_select.script needs at least one phase")
		}
		for i, p := range m.Script {
			if _, err := types.ParseMode(p.Mode); err != nil {
				return invalid("mode_select.script[%d]: %v", i, err)
			}
			if p.Duration <= 0 {
				return invalid("mode_select.script[%d]: duration must be positive", i)
			}
		}
	default:
		return invalid("unsupported mode_select.source %q", m.Source)
	}
	if m.Topic == "" {
		m.Topic = "mode"
	}
	return nil
}
