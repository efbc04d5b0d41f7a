// Package script loads linear OpModes written in Starlark.
//
// A script declares its catalog entry in an OPMODE dict and defines a
// run function taking the robot object:
//
//	OPMODE = {"name": "BlueLeft", "group": "autonomous"}
//
//	def run(robot):
//	    drive = robot.motion("left_drive", "right_drive")
//	    robot.wait_for_start()
//	    robot.move(drive, "timed", seconds = 1.5, powers = [0.5])
//	    while robot.is_active():
//	        robot.telemetry("t", robot.runtime())
//	        robot.flush()
//	        robot.idle()
//
// Every robot method that can block returns control to the engine, and a
// stop request cancels the Starlark thread so that even a loop that never
// calls into robot terminates.
//
// robot.move returns None on success. A request the motion controller
// rejects before actuating anything returns the reason as a string, so a
// script can log it and carry on; device faults raise.
package script
