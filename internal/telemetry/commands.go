package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"robot/internal/logging"
	"robot/pkg/types"
)

// ModeSetter accepts an operator mode request.
type ModeSetter interface {
	Set(mode types.OperatingMode)
}

var ErrBadModePayload = errors.New("bad mode payload")

// ParseModePayload accepts either a bare mode name or {"mode": "<name>"}.
func ParseModePayload(payload []byte) (types.OperatingMode, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return types.ModeDisabled, fmt.Errorf("%w: %v", ErrBadModePayload, err)
		}
		text = msg.Mode
	}
	mode, err := types.ParseMode(text)
	if err != nil {
		return types.ModeDisabled, fmt.Errorf("%w: %v", ErrBadModePayload, err)
	}
	return mode, nil
}

// ModeHandler returns a subscription handler that forwards mode requests to setter.
// Malformed requests are logged and ignored.
func ModeHandler(setter ModeSetter) func(payload []byte) {
	logger := logging.GetLogger("telemetry")
	return func(payload []byte) {
		mode, err := ParseModePayload(payload)
		if err != nil {
			logger.Warn("Ignoring mode request", "payload", string(payload), "error", err)
			return
		}
		logger.Info("Mode requested", "mode", mode.String())
		setter.Set(mode)
	}
}

// Stick is an operator arcade request in [-1, 1] on both axes.
type Stick struct {
	Throttle float64 `json:"throttle"`
	Turn     float64 `json:"turn"`
}

// StickSetter accepts operator drive requests.
type StickSetter interface {
	SetStick(stick Stick)
}

var ErrBadDrivePayload = errors.New("bad drive payload")

// ParseDrivePayload decodes {"throttle": t, "turn": r}; values outside [-1, 1] are rejected.
func ParseDrivePayload(payload []byte) (Stick, error) {
	var stick Stick
	if err := json.Unmarshal(payload, &stick); err != nil {
		return Stick{}, fmt.Errorf("%w: %v", ErrBadDrivePayload, err)
	}
	if math.Abs(stick.Throttle) > 1 || math.Abs(stick.Turn) > 1 {
		return Stick{}, fmt.Errorf("%w: axis outside [-1, 1]", ErrBadDrivePayload)
	}
	return stick, nil
}

func DriveHandler(setter StickSetter) func(payload []byte) {
	logger := logging.GetLogger("telemetry")
	return func(payload []byte) {
		stick, err := ParseDrivePayload(payload)
		if err != nil {
			logger.Warn("Ignoring drive request", "payload", string(payload), "error", err)
			return
		}
		setter.SetStick(stick)
	}
}
