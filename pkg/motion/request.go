package motion

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies the motion strategy of a Request.
type Kind string

const (
	// KindTimed applies power for a fixed duration with no feedback.
	KindTimed Kind = "timed"

	// KindThreshold applies power until the encoders have moved far enough.
	KindThreshold Kind = "threshold"

	// KindToPosition hands a target to the motors' closed-loop mode.
	KindToPosition Kind = "to_position"
)

// Request is an immutable description of one move. Build it with Timed,
// Threshold or ToPosition.
type Request struct {
	kind      Kind
	duration  time.Duration
	powers    []float64
	tickDelta int
	tolerance int
	power     float64
	reverse   []bool
}

// Timed drives for d. One power applies to every motor; otherwise give one
// power per motor.
func Timed(d time.Duration, powers ...float64) Request {
	return Request{kind: KindTimed, duration: d, powers: append([]float64(nil), powers...)}
}

// Threshold drives until the mean encoder displacement reaches tickDelta.
func Threshold(tickDelta int, powers ...float64) Request {
	return Request{kind: KindThreshold, tickDelta: tickDelta, powers: append([]float64(nil), powers...)}
}

// ToPosition moves every motor tickDelta ticks using run-to-position with
// the given power magnitude. The sign of power is ignored.
func ToPosition(tickDelta int, power float64) Request {
	return Request{kind: KindToPosition, tickDelta: tickDelta, power: power}
}

// WithTolerance returns a copy that completes tolerance ticks early.
// Only meaningful for threshold requests.
func (r Request) WithTolerance(ticks int) Request {
	r.tolerance = ticks
	return r
}

// WithReverse returns a copy where motors marked true move by -tickDelta.
// Only meaningful for run-to-position requests.
func (r Request) WithReverse(reverse ...bool) Request {
	r.reverse = append([]bool(nil), reverse...)
	return r
}

func (r Request) Kind() Kind              { return r.kind }
func (r Request) Duration() time.Duration { return r.duration }
func (r Request) TickDelta() int          { return r.tickDelta }
func (r Request) Tolerance() int          { return r.tolerance }

// Power returns the cruise power magnitude of a run-to-position request.
func (r Request) Power() float64 { return math.Abs(r.power) }

// Powers returns the per-motor powers for n motors.
func (r Request) Powers(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if len(r.powers) == 1 {
			out[i] = r.powers[0]
		} else if i < len(r.powers) {
			out[i] = r.powers[i]
		}
	}
	return out
}

// Reversed reports whether motor i moves by -tickDelta.
func (r Request) Reversed(i int) bool {
	return i < len(r.reverse) && r.reverse[i]
}

// Validate checks r against a controller with n motors. Every failure is
// a *CallerError.
func (r Request) Validate(n int) error {
	reject := func(field, format string, args ...any) error {
		return &CallerError{Kind: r.kind, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if n == 0 {
		return reject("motors", "controller has no motors")
	}

	switch r.kind {
	case KindTimed:
		if r.duration <= 0 {
			return reject("duration", "must be positive, got %s", r.duration)
		}
		return r.validatePowers(n, reject)

	case KindThreshold:
		if r.tickDelta <= 0 {
			return reject("tick_delta", "must be positive, got %d", r.tickDelta)
		}
		if r.tolerance < 0 || r.tolerance >= r.tickDelta {
			return reject("tolerance", "must be in [0, %d), got %d", r.tickDelta, r.tolerance)
		}
		if err := r.validatePowers(n, reject); err != nil {
			return err
		}
		for _, p := range r.powers {
			if p != 0 {
				return nil
			}
		}
		return reject("powers", "all zero, the threshold would never be reached")

	case KindToPosition:
		if r.tickDelta <= 0 {
			return reject("tick_delta", "must be positive, got %d", r.tickDelta)
		}
		if math.IsNaN(r.power) || r.power == 0 || math.Abs(r.power) > 1 {
			return reject("power", "magnitude must be in (0, 1], got %v", r.power)
		}
		if len(r.reverse) != 0 && len(r.reverse) != n {
			return reject("reverse", "got %d flags for %d motors", len(r.reverse), n)
		}
		return nil

	default:
		return reject("kind", "unknown request kind %q", r.kind)
	}
}

func (r Request) validatePowers(n int, reject func(string, string, ...any) error) error {
	if len(r.powers) != 1 && len(r.powers) != n {
		return reject("powers", "got %d powers for %d motors", len(r.powers), n)
	}
	for i, p := range r.powers {
		if math.IsNaN(p) || p < -1 || p > 1 {
			return reject("powers", "power[%d] = %v outside [-1, 1]", i, p)
		}
	}
	return nil
}

// String describes the request for logs.
func (r Request) String() string {
	switch r.kind {
	case KindTimed:
		return fmt.Sprintf("timed %s at %v", r.duration, r.powers)
	case KindThreshold:
		return fmt.Sprintf("threshold %d±%d ticks at %v", r.tickDelta, r.tolerance, r.powers)
	case KindToPosition:
		return fmt.Sprintf("to_position %d ticks at %.2f", r.tickDelta, r.Power())
	default:
		return string(r.kind)
	}
}
