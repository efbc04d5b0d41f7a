// Package engine runs OpModes: the selectable control programs of a
// competition robot.
//
// # Lifecycle
//
// Every activation moves through the same states:
//
//	uninitialized -> initializing -> init_idle -> running -> stopped
//
// Init selects an OpMode and runs its setup. The OpMode then waits in
// init_idle until Start, and runs until Stop or until one of its hooks
// fails. A start received while still initializing is kept. If stop and
// start are both pending at a cycle boundary, stop wins.
//
// Only one activation exists at a time. Init stops the previous one and
// waits for its devices to be released before the next OpMode runs.
//
// # Variants
//
// Iterative OpModes implement Init and Loop, plus optional InitLoop, Start
// and Stop hooks. The engine calls them from a single goroutine, one hook
// per quantum, and checks for stop between hooks, never during one.
//
// Linear OpModes implement RunOpMode and run as one routine on their own
// goroutine. The routine observes stop only at the suspension points of
// LinearContext: WaitForStart, Sleep, Idle, Move and the IsActive and
// InInit polls. Each returns or reports ErrStopRequested within one
// quantum of the stop.
//
// # Safe stop
//
// However an activation ends, the engine cancels any motion in flight,
// sets every acquired motor to zero power, returns run-to-position motors
// to using_encoder and revokes every device lease before reporting
// stopped. Handles kept by the OpMode fail with hardware.ErrReleased
// afterwards.
//
// # Errors
//
// Errors are classified as configuration, caller or runtime. Hooks may
// absorb caller errors, such as a rejected motion request, and keep
// running. Any error a hook returns is fatal to the OpMode.
//
//	if engine.IsConfiguration(err) {
//	    // a named device is missing or of the wrong kind
//	}
package engine
