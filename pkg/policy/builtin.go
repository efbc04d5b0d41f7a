package policy

// BuiltinPolicies returns the policies every guard starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		initMotionPolicy(),
		timedLimitPolicy(),
		powerCeilingPolicy(),
	}
}

// initMotionPolicy keeps the drivetrain still until the OpMode is started.
func initMotionPolicy() Policy {
	return Policy{
		Name:        "no-motion-in-init",
		Description: "Motors may not be driven before the OpMode is started",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package robocore.policies.init

import rego.v1

deny contains violation if {
	input.motion.phase in {"initializing", "init_idle"}
	violation := {
		"message": sprintf("%s motion on %v requested during %s", [input.motion.kind, input.motion.motors, input.motion.phase]),
		"severity": "error",
	}
}
`,
	}
}

// timedLimitPolicy bounds open-loop moves to one match period.
func timedLimitPolicy() Policy {
	return Policy{
		Name:        "timed-limit",
		Description: "Timed moves may not exceed 30 seconds",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package robocore.policies.timed

import rego.v1

max_ns := 30000000000

deny contains violation if {
	input.motion.kind == "timed"
	input.motion.duration_ns > max_ns
	violation := {
		"message": sprintf("timed move of %vs exceeds %vs", [input.motion.duration_ns / 1000000000, max_ns / 1000000000]),
		"severity": "error",
	}
}
`,
	}
}

// powerCeilingPolicy flags full-power moves without blocking them.
func powerCeilingPolicy() Policy {
	return Policy{
		Name:        "power-ceiling",
		Description: "Warns when a move requests more than 90% power",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package robocore.policies.power

import rego.v1

deny contains violation if {
	some p in input.motion.powers
	abs(p) > 0.9
	violation := {
		"message": sprintf("power %v above 0.9", [p]),
		"severity": "warning",
	}
}
`,
	}
}
