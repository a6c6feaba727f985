package logging

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// 全局日志管理器实例
	defaultManager *Manager
	managerMu      sync.Mutex
)

// Manager 日志管理器，负责管理多个日志实例
type Manager struct {
	mu      sync.RWMutex
	root    *Logger
	loggers map[string]*Logger
	config  *Config
}

// NewManager 创建新的日志管理器
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	root, err := NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}

	return &Manager{
		root:    root,
		loggers: map[string]*Logger{"default": root},
		config:  config,
	}, nil
}

// Init 使用给定配置替换全局日志管理器
func Init(config *Config) error {
	m, err := NewManager(config)
	if err != nil {
		return err
	}
	managerMu.Lock()
	defaultManager = m
	managerMu.Unlock()
	return nil
}

// GetManager 获取全局日志管理器实例
func GetManager() *Manager {
	managerMu.Lock()
	defer managerMu.Unlock()
	if defaultManager == nil {
		defaultManager, _ = NewManager(DefaultConfig())
	}
	return defaultManager
}

// GetLogger 获取指定名称的日志器
func (m *Manager) GetLogger(name string) *Logger {
	m.mu.RLock()
	logger, exists := m.loggers[name]
	m.mu.RUnlock()
	if exists {
		return logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, exists := m.loggers[name]; exists {
		return logger
	}

	// 共享根日志器的级别，为不同的模块添加名称
	logger = m.root.Named(name)
	m.loggers[name] = logger
	return logger
}

// UpdateConfig 更新日志级别，所有模块日志器共享同一级别
func (m *Manager) UpdateConfig(config *Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Level = config.Level
	m.root.UpdateLevel(config.Level)
	m.root.Info("Logger level updated", "level", config.Level)
	return nil
}

// GetLoggerNames 获取所有日志器名称
func (m *Manager) GetLoggerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loggers))
	for name := range m.loggers {
		names = append(names, name)
	}
	return names
}

// Close 刷新所有输出
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// stdout/stderr 上的 Sync 可能返回无害的 EINVAL
	if m.config.Output == "file" {
		return m.root.Sync()
	}
	return nil
}

// 便捷函数：使用默认日志管理器获取日志器
func GetLogger(name string) *Logger {
	return GetManager().GetLogger(name)
}

// 便捷函数：获取默认日志器
func Default() *Logger {
	return GetLogger("default")
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
