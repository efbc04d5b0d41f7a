package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RobotConfig describes one robot: which backend drives it, the devices
// plugged into it and the defaults the runtime starts with.
type RobotConfig struct {
	// Robot identifies the robot.
	Robot RobotInfo `json:"robot" yaml:"robot"`

	// Backend selects simulated devices or a serial motor hub.
	Backend string `json:"backend" yaml:"backend" validate:"required,oneof=sim serial"`

	// Hub configures the serial link. Required for the serial backend.
	Hub *HubConfig `json:"hub,omitempty" yaml:"hub,omitempty" validate:"required_if=Backend serial"`

	// QuantumMS is the scheduling cycle in milliseconds.
	QuantumMS int `json:"quantum_ms" yaml:"quantum_ms" validate:"gte=1,lte=1000"`

	// StopTimeoutMS bounds how long a linear OpMode may ignore a stop.
	StopTimeoutMS int `json:"stop_timeout_ms" yaml:"stop_timeout_ms" validate:"gte=10"`

	Motors  []MotorConfig  `json:"motors" yaml:"motors" validate:"dive"`
	Servos  []ServoConfig  `json:"servos" yaml:"servos" validate:"dive"`
	Sensors []SensorConfig `json:"sensors" yaml:"sensors" validate:"dive"`

	// Drivetrain names the drive motors used by the built-in teleop and
	// autonomous OpModes.
	Drivetrain *DrivetrainConfig `json:"drivetrain,omitempty" yaml:"drivetrain,omitempty"`

	// Policy points at Rego files that gate motion requests.
	Policy *PolicyConfig `json:"policy,omitempty" yaml:"policy,omitempty"`

	// Scripts are Starlark files loaded as linear OpModes.
	Scripts []string `json:"scripts" yaml:"scripts"`
}

// RobotInfo identifies a robot.
type RobotInfo struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Team int    `json:"team,omitempty" yaml:"team,omitempty" validate:"gte=0"`
}

// HubConfig configures the serial motor hub.
type HubConfig struct {
	Port          string `json:"port" yaml:"port" validate:"required"`
	Baud          int    `json:"baud" yaml:"baud" validate:"gte=0"`
	ReadTimeoutMS int    `json:"read_timeout_ms" yaml:"read_timeout_ms" validate:"gte=0"`
}

// MotorConfig describes one DC motor with encoder.
type MotorConfig struct {
	Name      string `json:"name" yaml:"name" validate:"required"`
	Port      int    `json:"port" yaml:"port" validate:"gte=0,lte=255"`
	Direction string `json:"direction" yaml:"direction" validate:"oneof=forward reverse"`

	// TicksPerSecond and PID tune the simulated motor; the serial hub
	// closes its own loop and ignores them.
	TicksPerSecond float64   `json:"ticks_per_second" yaml:"ticks_per_second" validate:"gt=0"`
	Tolerance      int       `json:"tolerance" yaml:"tolerance" validate:"gte=0"`
	PID            PIDConfig `json:"pid" yaml:"pid"`
}

// PIDConfig holds run-to-position gains.
type PIDConfig struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// ServoConfig describes one positional servo.
type ServoConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Port int    `json:"port" yaml:"port" validate:"gte=0,lte=255"`
}

// SensorConfig describes one input channel.
type SensorConfig struct {
	Name      string  `json:"name" yaml:"name" validate:"required"`
	Port      int     `json:"port" yaml:"port" validate:"gte=0,lte=255"`
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
}

// DrivetrainConfig names the drive motors.
type DrivetrainConfig struct {
	Left  string `json:"left" yaml:"left" validate:"required"`
	Right string `json:"right" yaml:"right" validate:"required"`
	Mode  string `json:"mode" yaml:"mode" validate:"oneof=tank pov"`

	// TicksPerInch converts autonomous distances to encoder ticks.
	TicksPerInch float64 `json:"ticks_per_inch" yaml:"ticks_per_inch" validate:"gt=0"`
}

// PolicyConfig locates motion safety policies.
type PolicyConfig struct {
	Paths []string `json:"paths" yaml:"paths" validate:"min=1"`
	Watch bool     `json:"watch" yaml:"watch"`
}

// ValidationError is one problem found in a configuration, with its
// location when known.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var parts []string
	if e.File != "" {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, ": ")
}

// LoadError collects every problem found while loading a configuration.
type LoadError struct {
	Source string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %s", e.Source, e.Errors[0])
	}
	return fmt.Sprintf("%s: %d problems, first: %s", e.Source, len(e.Errors), e.Errors[0])
}

// Quantum returns the scheduling cycle.
func (c *RobotConfig) Quantum() time.Duration {
	return time.Duration(c.QuantumMS) * time.Millisecond
}

// StopTimeout returns the linear stop timeout.
func (c *RobotConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMS) * time.Millisecond
}

var structValidator = validator.New()

// Validate checks field ranges and cross references: device names are
// unique, ports are not shared within a device kind and the drivetrain
// names configured motors.
func (c *RobotConfig) Validate() []ValidationError {
	var errs []ValidationError

	if err := structValidator.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
				})
			}
		} else {
			errs = append(errs, ValidationError{Message: err.Error()})
		}
	}

	names := make(map[string]string)
	claim := func(kind, name string) {
		if prev, dup := names[name]; dup {
			errs = append(errs, ValidationError{
				Path:    kind + "." + name,
				Message: fmt.Sprintf("device name already used by a %s", prev),
			})
			return
		}
		names[name] = kind
	}
	ports := make(map[string]string)
	port := func(kind, name string, p int) {
		key := fmt.Sprintf("%s/%d", kind, p)
		if prev, dup := ports[key]; dup {
			errs = append(errs, ValidationError{
				Path:    kind + "." + name,
				Message: fmt.Sprintf("%s port %d already used by %s", kind, p, prev),
			})
			return
		}
		ports[key] = name
	}

	for _, m := range c.Motors {
		claim("motor", m.Name)
		port("motor", m.Name, m.Port)
	}
	for _, s := range c.Servos {
		claim("servo", s.Name)
		port("servo", s.Name, s.Port)
	}
	for _, s := range c.Sensors {
		claim("sensor", s.Name)
		port("sensor", s.Name, s.Port)
	}

	if dt := c.Drivetrain; dt != nil {
		for _, side := range []string{dt.Left, dt.Right} {
			if names[side] != "motor" {
				errs = append(errs, ValidationError{
					Path:    "drivetrain",
					Message: fmt.Sprintf("%q is not a configured motor", side),
				})
			}
		}
		if dt.Left == dt.Right {
			errs = append(errs, ValidationError{Path: "drivetrain", Message: "left and right must differ"})
		}
	}
	return errs
}
