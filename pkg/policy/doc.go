// Package policy gates motion requests with Open Policy Agent (OPA)
// policies written in Rego.
//
// A Guard is installed on the engine and consulted by every motion
// controller before any motor is touched. Each enabled policy is a Rego
// module whose deny set is evaluated against an Input document:
//
//	{
//	  "motion": {
//	    "opmode": "BlueLeft",
//	    "phase": "running",
//	    "kind": "timed",
//	    "motors": ["left_drive", "right_drive"],
//	    "powers": [0.5, 0.5],
//	    "tick_delta": 0,
//	    "duration_ns": 1500000000
//	  },
//	  "context": {"timestamp": "...", "robot": "ranger"}
//	}
//
// Elements of deny may be strings or objects with "message" and
// "severity". Error and critical violations deny the request, which the
// controller reports as a caller error. Warnings are logged only.
//
// # Built-in Policies
//
//   - no-motion-in-init: no motion before the OpMode is started
//   - timed-limit: timed moves are capped at 30 seconds
//   - power-ceiling: warns above 90% power
//
// # Custom Policies
//
// Robot configuration lists policy files or directories. .rego files are
// named after the file; .json files carry a full Policy definition. With
// watching enabled the set is reloaded on change, and a reload that fails
// to parse or compile keeps the previous set in force.
//
//	guard, err := policy.NewGuard(logger, policy.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	if err := guard.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
//	    return err
//	}
//	eng := engine.New(catalog, pool, latch, panel, engine.WithGuard(guard))
package policy
