package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateDriveForward(t *testing.T) {
	cfg, err := loadConfig(Options{Routine: "drive_forward"})
	require.NoError(t, err)

	result, err := Simulate(context.Background(), cfg, Options{Autonomous: 5 * time.Second})
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, []string{"cross", "stop"}, result.Steps)
	assert.InDelta(t, 80, result.Distance, 2)
	assert.InDelta(t, 0, result.Angle, 0.5)
	assert.GreaterOrEqual(t, result.Elapsed, 5*time.Second)
}

func TestSimulateBoilerShot(t *testing.T) {
	cfg, err := loadConfig(Options{})
	require.NoError(t, err)

	result, err := Simulate(context.Background(), cfg, Options{Autonomous: 15 * time.Second})
	require.NoError(t, err)

	require.NotEmpty(t, result.Steps)
	assert.Equal(t, "spin_up_and_back", result.Steps[0])
	assert.Contains(t, result.Steps, "turn_to_boiler")
	assert.Less(t, result.Distance, 0.0)
}

func TestLoadConfigForcesSimulation(t *testing.T) {
	cfg, err := loadConfig(Options{Targets: []float64{100}, Mirror: true, Verbose: true})
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Hardware.Backend)
	assert.Equal(t, []float64{100}, cfg.Hardware.Sim.Targets)
	assert.Empty(t, cfg.Telemetry.MetricsAddr)
	assert.False(t, cfg.Telemetry.MQTT.Enabled)
	assert.True(t, cfg.Autonomous.Mirror)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigRejectsUnknownRoutine(t *testing.T) {
	_, err := loadConfig(Options{Routine: "missing"})
	assert.Error(t, err)
}
