// Package config loads robot configurations and builds their devices.
//
// # Overview
//
// A robot configuration names every motor, servo and sensor, says which
// backend drives them and sets the runtime defaults. Files are written in
// CUE or YAML and are checked against the built-in #Robot schema, which
// also supplies defaults for omitted fields:
//
//	robot: name: "rover"
//	backend: "sim"
//
//	motors: [
//	    {name: "left_drive", port: 0},
//	    {name: "right_drive", port: 1, direction: "reverse"},
//	]
//	servos: [{name: "claw", port: 0}]
//	sensors: [{name: "touch", port: 0, threshold: 0.5}]
//
//	drivetrain: {left: "left_drive", right: "right_drive", mode: "pov"}
//	scripts: ["auto_square.star"]
//
// After the schema, the decoded RobotConfig is validated as a Go struct
// and cross-checked: device names must be unique, ports may not be shared
// within a device kind, and the drivetrain must name configured motors.
//
// # Components
//
// Loader reads CUE or YAML and returns a RobotConfig, or a *LoadError
// listing every problem with its file position when one is known.
//
// SchemaRegistry holds the CUE definitions. Custom schemas follow the
// naming rule that a schema registered as "name" is the definition #Name
// in its source.
//
// Build turns a RobotConfig into a hardware.Map of simulated devices or
// devices on a serial motor hub.
//
// # Usage Example
//
//	cfg, err := config.NewLoader().Load("robot.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	robot, err := config.Build(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer robot.Close()
//	pool := hardware.NewPool(robot.Registry)
package config
