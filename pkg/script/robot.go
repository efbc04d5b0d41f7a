package script

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/motion"
)

// controllerValue carries a motion controller through Starlark.
type controllerValue struct {
	ctrl   *motion.Controller
	motors []string
}

func (c *controllerValue) String() string        { return fmt.Sprintf("motion%v", c.motors) }
func (c *controllerValue) Type() string          { return "motion" }
func (c *controllerValue) Freeze()               {}
func (c *controllerValue) Truth() starlark.Bool  { return starlark.True }
func (c *controllerValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: motion") }

type builtinFunc func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// newRobot builds the object passed to run(robot).
func newRobot(lc *engine.LinearContext) *starlarkstruct.Struct {
	fns := map[string]builtinFunc{
		"wait_for_start": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.None, lc.WaitForStart()
		},
		"sleep": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var secs starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seconds", &secs); err != nil {
				return nil, err
			}
			d, err := seconds(b.Name(), secs)
			if err != nil {
				return nil, err
			}
			return starlark.None, lc.Sleep(d)
		},
		"idle": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.None, lc.Idle()
		},
		"is_active": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.Bool(lc.IsActive()), starlark.UnpackArgs(b.Name(), args, kwargs)
		},
		"in_init": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.Bool(lc.InInit()), starlark.UnpackArgs(b.Name(), args, kwargs)
		},
		"runtime": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.Float(lc.Runtime().Seconds()), starlark.UnpackArgs(b.Name(), args, kwargs)
		},
		"gamepad": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var n int
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "index", &n); err != nil {
				return nil, err
			}
			switch n {
			case 1:
				return structOf(lc.Gamepad1())
			case 2:
				return structOf(lc.Gamepad2())
			}
			return nil, fmt.Errorf("%s: index %d, want 1 or 2", b.Name(), n)
		},
		"motor": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			m, err := lc.Motor(name)
			if err != nil {
				return nil, err
			}
			return motorValue(m), nil
		},
		"servo": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			s, err := lc.Servo(name)
			if err != nil {
				return nil, err
			}
			return servoValue(s), nil
		},
		"sensor": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			s, err := lc.Sensor(name)
			if err != nil {
				return nil, err
			}
			return sensorValue(s), nil
		},
		"motion": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
			}
			names := make([]string, len(args))
			for i, a := range args {
				s, ok := starlark.AsString(a)
				if !ok {
					return nil, fmt.Errorf("%s: argument %d is %s, want motor name", b.Name(), i+1, a.Type())
				}
				names[i] = s
			}
			ctrl, err := lc.Motion(names...)
			if err != nil {
				return nil, err
			}
			return &controllerValue{ctrl: ctrl, motors: names}, nil
		},
		"move": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return move(lc, b, args, kwargs)
		},
		"telemetry": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var caption string
			var value starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "caption", &caption, "value", &value); err != nil {
				return nil, err
			}
			switch v := value.(type) {
			case starlark.String:
				lc.Telemetry.AddRow(caption, string(v))
			case starlark.Float:
				lc.Telemetry.AddRow(caption, float64(v))
			default:
				lc.Telemetry.AddRow(caption, value.String())
			}
			return starlark.None, nil
		},
		"flush": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.None, lc.Telemetry.Flush()
		},
	}

	members := starlark.StringDict{}
	for name, fn := range fns {
		members[name] = starlark.NewBuiltin(name, fn)
	}
	return starlarkstruct.FromStringDict(starlark.String("robot"), members)
}

// move runs one motion request. Requests rejected before actuation
// return the reason as a string so scripts can recover; device faults and
// stop requests raise.
func move(lc *engine.LinearContext, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		ctrl      starlark.Value
		kind      string
		secs      starlark.Value = starlark.None
		ticks     int
		tolerance int
		power     starlark.Value = starlark.None
		powers    *starlark.List
		reverse   *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"ctrl", &ctrl, "kind", &kind,
		"seconds?", &secs, "ticks?", &ticks, "tolerance?", &tolerance,
		"power?", &power, "powers?", &powers, "reverse?", &reverse,
	); err != nil {
		return nil, err
	}
	cv, ok := ctrl.(*controllerValue)
	if !ok {
		return nil, fmt.Errorf("%s: ctrl is %s, want motion", b.Name(), ctrl.Type())
	}

	ps, err := floatsOf("powers", powers)
	if err != nil {
		return nil, err
	}
	rev, err := boolsOf("reverse", reverse)
	if err != nil {
		return nil, err
	}

	var req motion.Request
	switch motion.Kind(kind) {
	case motion.KindTimed:
		d, err := seconds("seconds", secs)
		if err != nil {
			return nil, err
		}
		req = motion.Timed(d, ps...)
	case motion.KindThreshold:
		req = motion.Threshold(ticks, ps...).WithTolerance(tolerance)
	case motion.KindToPosition:
		p, ok := starlark.AsFloat(power)
		if !ok {
			return nil, fmt.Errorf("%s: to_position needs a numeric power", b.Name())
		}
		req = motion.ToPosition(ticks, p)
		if rev != nil {
			req = req.WithReverse(rev...)
		}
	default:
		return nil, fmt.Errorf("%s: unknown kind %q", b.Name(), kind)
	}

	if err := lc.Move(cv.ctrl, req); err != nil {
		if motion.IsCallerError(err) {
			return starlark.String(err.Error()), nil
		}
		return nil, err
	}
	return starlark.None, nil
}

func seconds(name string, v starlark.Value) (time.Duration, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: want seconds as a number, got %s", name, v.Type())
	}
	return time.Duration(f * float64(time.Second)), nil
}

func motorValue(m hardware.Motor) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("motor"), starlark.StringDict{
		"name": starlark.String(m.Name()),
		"set_power": starlark.NewBuiltin("set_power", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "power", &p); err != nil {
				return nil, err
			}
			f, ok := starlark.AsFloat(p)
			if !ok {
				return nil, fmt.Errorf("%s: want number, got %s", b.Name(), p.Type())
			}
			return starlark.None, m.SetPower(f)
		}),
		"position": starlark.NewBuiltin("position", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			pos, err := m.CurrentPosition()
			return starlark.MakeInt(pos), err
		}),
		"reset_encoder": starlark.NewBuiltin("reset_encoder", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.None, m.ResetEncoder()
		}),
		"set_direction": starlark.NewBuiltin("set_direction", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var dir string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "direction", &dir); err != nil {
				return nil, err
			}
			d := hardware.Direction(dir)
			if err := d.Validate(); err != nil {
				return nil, err
			}
			return starlark.None, m.SetDirection(d)
		}),
	})
}

func servoValue(s hardware.Servo) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("servo"), starlark.StringDict{
		"name": starlark.String(s.Name()),
		"set_position": starlark.NewBuiltin("set_position", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "position", &p); err != nil {
				return nil, err
			}
			f, ok := starlark.AsFloat(p)
			if !ok {
				return nil, fmt.Errorf("%s: want number, got %s", b.Name(), p.Type())
			}
			return starlark.None, s.SetPosition(f)
		}),
	})
}

func sensorValue(s hardware.Sensor) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("sensor"), starlark.StringDict{
		"name": starlark.String(s.Name()),
		"value": starlark.NewBuiltin("value", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			v, err := s.Value()
			return starlark.Float(v), err
		}),
		"pressed": starlark.NewBuiltin("pressed", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			v, err := s.State()
			return starlark.Bool(v), err
		}),
	})
}
