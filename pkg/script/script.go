package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/robocore/robocore/pkg/engine"
)

// DefaultGroup is used when a script's OPMODE omits "group".
const DefaultGroup = "autonomous"

// Script is a parsed Starlark OpMode.
type Script struct {
	Path       string
	Descriptor engine.Descriptor

	src []byte
}

var fileOptions = &syntax.FileOptions{
	While:     true,
	Recursion: false,
	Set:       true,
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"math":   math.Module,
	}
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(path, src)
}

// Parse executes the top level of src once to read its OPMODE declaration
// and check that it defines run(robot).
func Parse(path string, src []byte) (*Script, error) {
	globals, err := exec(&starlark.Thread{Name: "parse"}, path, src)
	if err != nil {
		return nil, err
	}

	desc := engine.Descriptor{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Group:   DefaultGroup,
		Variant: engine.VariantLinear,
		Source:  path,
	}
	if raw, ok := globals["OPMODE"]; ok {
		v, err := fromStarlarkValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: OPMODE: %w", path, err)
		}
		fields, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: OPMODE must be a dict, got %s", path, raw.Type())
		}
		for key, val := range fields {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%s: OPMODE[%q] must be a string", path, key)
			}
			switch key {
			case "name":
				desc.Name = s
			case "group":
				desc.Group = s
			case "description":
				desc.Description = s
			default:
				return nil, fmt.Errorf("%s: OPMODE has unknown key %q", path, key)
			}
		}
	}

	if _, err := runFunc(path, globals); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Script{Path: path, Descriptor: desc, src: src}, nil
}

// RunOpMode implements engine.Linear. The file is executed afresh for
// every activation so module-level state never leaks between runs.
func (s *Script) RunOpMode(lc *engine.LinearContext) error {
	thread := &starlark.Thread{
		Name: s.Descriptor.Name,
		Print: func(_ *starlark.Thread, msg string) {
			lc.Logger.Info(msg)
		},
	}
	cancel := context.AfterFunc(lc.Context(), func() {
		thread.Cancel("stop requested")
	})
	defer cancel()

	err := s.run(thread, lc)
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrStopRequested) || lc.IsStopRequested() {
		return engine.ErrStopRequested
	}
	return fmt.Errorf("script %s: %w", s.Descriptor.Name, err)
}

func (s *Script) run(thread *starlark.Thread, lc *engine.LinearContext) error {
	globals, err := exec(thread, s.Path, s.src)
	if err != nil {
		return err
	}
	fn, err := runFunc(s.Path, globals)
	if err != nil {
		return err
	}
	_, err = starlark.Call(thread, fn, starlark.Tuple{newRobot(lc)}, nil)
	return err
}

// Register loads each path and adds it to catalog as a linear OpMode.
func Register(catalog *engine.Catalog, paths ...string) ([]*Script, error) {
	scripts := make([]*Script, 0, len(paths))
	for _, path := range paths {
		s, err := Load(path)
		if err != nil {
			return nil, err
		}
		if err := catalog.RegisterLinear(s.Descriptor, func() engine.Linear { return s }); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

func exec(thread *starlark.Thread, path string, src []byte) (starlark.StringDict, error) {
	return starlark.ExecFileOptions(fileOptions, thread, path, src, predeclared())
}

func runFunc(path string, globals starlark.StringDict) (*starlark.Function, error) {
	v, ok := globals["run"]
	if !ok {
		return nil, fmt.Errorf("%s: missing run(robot) function", path)
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("%s: run must be a function, got %s", path, v.Type())
	}
	if fn.NumParams() != 1 {
		return nil, fmt.Errorf("%s: run must take exactly one parameter, takes %d", path, fn.NumParams())
	}
	return fn, nil
}
