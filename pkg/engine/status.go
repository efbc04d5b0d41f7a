package engine

import "fmt"

// State is the lifecycle state of an OpMode activation.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitIdle      State = "init_idle"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateInitIdle, StateStopped},
	StateInitIdle:      {StateRunning, StateStopped},
	StateRunning:       {StateStopped},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for StateStopped.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Validate checks if the state is known.
func (s State) Validate() error {
	switch s {
	case StateUninitialized, StateInitializing, StateInitIdle, StateRunning, StateStopped:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle state: %s", s)
	}
}

// Variant is the execution style of an OpMode.
type Variant string

const (
	// VariantIterative OpModes expose hooks the engine calls once per quantum.
	VariantIterative Variant = "iterative"

	// VariantLinear OpModes run one routine that blocks at suspension points.
	VariantLinear Variant = "linear"
)

// Validate checks if the variant is known.
func (v Variant) Validate() error {
	switch v {
	case VariantIterative, VariantLinear:
		return nil
	default:
		return fmt.Errorf("invalid opmode variant: %s", v)
	}
}

// Outcome is how an activation ended.
type Outcome string

const (
	// OutcomeStopped means the operator stopped the OpMode.
	OutcomeStopped Outcome = "stopped"

	// OutcomeCompleted means a linear routine returned on its own.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFault means a hook failed or panicked.
	OutcomeFault Outcome = "fault"

	// OutcomeAbandoned means a linear routine ignored a stop request past
	// the stop timeout and was left running with revoked devices.
	OutcomeAbandoned Outcome = "abandoned"
)
