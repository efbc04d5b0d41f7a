// Package protocol defines the newline-delimited JSON stream spoken
// between an operator console and a running robot.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/robocore/robocore/pkg/input"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// Console to robot.

	// MessageTypeInit selects and initializes an OpMode.
	MessageTypeInit MessageType = "INIT"
	// MessageTypeStart starts the initialized OpMode.
	MessageTypeStart MessageType = "START"
	// MessageTypeStop stops the active OpMode.
	MessageTypeStop MessageType = "STOP"
	// MessageTypeGamepad replaces one controller's state.
	MessageTypeGamepad MessageType = "GAMEPAD"
	// MessageTypeSensor sets a simulated sensor reading.
	MessageTypeSensor MessageType = "SENSOR"

	// Robot to console.

	// MessageTypeReady announces the robot and its OpModes.
	MessageTypeReady MessageType = "READY"
	// MessageTypeState reports a lifecycle transition.
	MessageTypeState MessageType = "STATE"
	// MessageTypeTelemetry carries one flushed telemetry frame.
	MessageTypeTelemetry MessageType = "TELEMETRY"
	// MessageTypeResult reports how an activation ended.
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError reports a rejected console message.
	MessageTypeError MessageType = "ERROR"
)

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeInit, MessageTypeStart, MessageTypeStop, MessageTypeGamepad, MessageTypeSensor,
		MessageTypeReady, MessageTypeState, MessageTypeTelemetry, MessageTypeResult, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", mt)
	}
}

// Inbound reports whether messages of this type flow from the console.
func (mt MessageType) Inbound() bool {
	switch mt {
	case MessageTypeInit, MessageTypeStart, MessageTypeStop, MessageTypeGamepad, MessageTypeSensor:
		return true
	}
	return false
}

// Message is the envelope of every line.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// InitMessage selects an OpMode.
type InitMessage struct {
	OpMode string `json:"opmode" validate:"required"`
}

// GamepadMessage replaces controller 1 or 2.
type GamepadMessage struct {
	Index   int           `json:"index" validate:"oneof=1 2"`
	Gamepad input.Gamepad `json:"gamepad"`
}

// SensorMessage sets a simulated sensor.
type SensorMessage struct {
	Name  string  `json:"name" validate:"required"`
	Value float64 `json:"value"`
}

// OpModeInfo describes one catalog entry.
type OpModeInfo struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	Variant     string `json:"variant"`
	Description string `json:"description,omitempty"`
}

// ReadyMessage is sent once the console session is open.
type ReadyMessage struct {
	Robot   string       `json:"robot"`
	Version string       `json:"version"`
	OpModes []OpModeInfo `json:"opmodes"`
}

// StateMessage reports a lifecycle transition.
type StateMessage struct {
	RunID  string `json:"run_id"`
	OpMode string `json:"opmode"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// TelemetryRow is one caption/value line.
type TelemetryRow struct {
	Caption string `json:"caption"`
	Value   string `json:"value"`
}

// TelemetryMessage carries one flushed frame.
type TelemetryMessage struct {
	Rows []TelemetryRow `json:"rows"`
}

// ResultMessage reports how an activation ended.
type ResultMessage struct {
	RunID    string  `json:"run_id"`
	OpMode   string  `json:"opmode"`
	Outcome  string  `json:"outcome"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration"` // seconds
}

// ErrorMessage reports a console message that could not be applied.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

var validate = validator.New()

// ValidatePayload checks the struct tags of a decoded payload.
func ValidatePayload(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}
