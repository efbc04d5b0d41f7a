package config

import (
	"fmt"
	"time"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/hardware/serialhub"
	"github.com/robocore/robocore/pkg/hardware/sim"
)

// Robot is a configuration turned into live devices.
type Robot struct {
	Config   *RobotConfig
	Registry *hardware.Map

	hub     *serialhub.Hub
	sensors map[string]*sim.Sensor
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	clock   sim.Clock
	openHub func(serialhub.Config) (*serialhub.Hub, error)
}

// WithClock drives simulated devices from clock.
func WithClock(c sim.Clock) BuildOption {
	return func(o *buildOptions) { o.clock = c }
}

// WithHubOpener replaces serialhub.Open.
func WithHubOpener(open func(serialhub.Config) (*serialhub.Hub, error)) BuildOption {
	return func(o *buildOptions) { o.openHub = open }
}

// Build creates the devices cfg describes and registers them by name.
func Build(cfg *RobotConfig, opts ...BuildOption) (*Robot, error) {
	o := buildOptions{clock: sim.WallClock{}, openHub: serialhub.Open}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Robot{
		Config:   cfg,
		Registry: hardware.NewMap(),
		sensors:  make(map[string]*sim.Sensor),
	}

	var devices []hardware.Device
	switch cfg.Backend {
	case "sim":
		devices = r.simDevices(o.clock)
	case "serial":
		if cfg.Hub == nil {
			return nil, fmt.Errorf("serial backend needs a hub section")
		}
		hub, err := o.openHub(serialhub.Config{
			Port:        cfg.Hub.Port,
			Baud:        cfg.Hub.Baud,
			ReadTimeout: time.Duration(cfg.Hub.ReadTimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		r.hub = hub
		devices = r.hubDevices(hub)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	for _, d := range devices {
		if err := r.Registry.Add(d); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	for _, mc := range cfg.Motors {
		if mc.Direction != string(hardware.DirectionReverse) {
			continue
		}
		d, _ := r.Registry.Lookup(mc.Name)
		if err := d.(hardware.Motor).SetDirection(hardware.DirectionReverse); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("motor %s: %w", mc.Name, err)
		}
	}
	return r, nil
}

func (r *Robot) simDevices(clock sim.Clock) []hardware.Device {
	var out []hardware.Device
	for _, mc := range r.Config.Motors {
		out = append(out, sim.NewMotor(mc.Name, sim.MotorConfig{
			TicksPerSecond: mc.TicksPerSecond,
			Tolerance:      mc.Tolerance,
			Kp:             mc.PID.Kp,
			Ki:             mc.PID.Ki,
			Kd:             mc.PID.Kd,
		}, clock))
	}
	for _, sc := range r.Config.Servos {
		out = append(out, sim.NewServo(sc.Name))
	}
	for _, sc := range r.Config.Sensors {
		s := sim.NewSensor(sc.Name, sc.Threshold)
		r.sensors[sc.Name] = s
		out = append(out, s)
	}
	return out
}

func (r *Robot) hubDevices(hub *serialhub.Hub) []hardware.Device {
	var out []hardware.Device
	for _, mc := range r.Config.Motors {
		out = append(out, hub.Motor(mc.Name, mc.Port))
	}
	for _, sc := range r.Config.Servos {
		out = append(out, hub.Servo(sc.Name, sc.Port))
	}
	for _, sc := range r.Config.Sensors {
		out = append(out, hub.Sensor(sc.Name, sc.Port, sc.Threshold))
	}
	return out
}

// SimSensor returns a simulated sensor so its reading can be driven from
// outside. It reports false on the serial backend.
func (r *Robot) SimSensor(name string) (*sim.Sensor, bool) {
	s, ok := r.sensors[name]
	return s, ok
}

// Close releases the serial link, if any.
func (r *Robot) Close() error {
	if r.hub == nil {
		return nil
	}
	return r.hub.Close()
}
