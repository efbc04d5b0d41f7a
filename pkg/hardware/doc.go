// Package hardware defines the capability-typed device handles an OpMode
// drives: motors, servos and sensors.
//
// Devices are resolved by operator-assigned name through a Registry. An
// OpMode never holds a device directly; it acquires leases through a
// Session, which is scoped to exactly one OpMode activation. Closing the
// Session forces every leased motor to a safe state (zero power, run mode
// reset away from run-to-position) and revokes the leases so that a
// routine which outlives its OpMode can no longer actuate anything.
//
// Backends live in subpackages: sim provides simulated devices and
// serialhub talks to a microcontroller motor hub over a serial line.
package hardware
