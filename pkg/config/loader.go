package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads robot configurations written in CUE or YAML. Both formats
// are checked against the #Robot schema, which also fills in defaults, and
// then validated as Go structs.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{schemas: NewSchemaRegistry()}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load reads path, choosing the format by extension.
func (l *Loader) Load(path string) (*RobotConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg *RobotConfig
	switch ext := filepath.Ext(path); ext {
	case ".cue":
		cfg, err = l.LoadCUE(content, path)
	case ".yaml", ".yml":
		cfg, err = l.LoadYAML(content, path)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	// Script paths are relative to the config file.
	dir := filepath.Dir(path)
	for i, s := range cfg.Scripts {
		if !filepath.IsAbs(s) {
			cfg.Scripts[i] = filepath.Join(dir, s)
		}
	}
	if cfg.Policy != nil {
		for i, p := range cfg.Policy.Paths {
			if !filepath.IsAbs(p) {
				cfg.Policy.Paths[i] = filepath.Join(dir, p)
			}
		}
	}
	return cfg, nil
}

// LoadCUE parses CUE source.
func (l *Loader) LoadCUE(content []byte, filename string) (*RobotConfig, error) {
	val := l.schemas.Context().CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Source: filename, Errors: convertCUEErrors(err)}
	}
	return l.resolve(val, filename)
}

// LoadYAML parses YAML source.
func (l *Loader) LoadYAML(content []byte, filename string) (*RobotConfig, error) {
	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, &LoadError{Source: filename, Errors: []ValidationError{{File: filename, Message: err.Error()}}}
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	val := l.schemas.Context().Encode(data)
	if err := val.Err(); err != nil {
		return nil, &LoadError{Source: filename, Errors: convertCUEErrors(err)}
	}
	return l.resolve(val, filename)
}

func (l *Loader) resolve(val cue.Value, source string) (*RobotConfig, error) {
	schema, ok := l.schemas.GetSchema("robot")
	if !ok {
		return nil, fmt.Errorf("robot schema not registered")
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	var cfg RobotConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &LoadError{Source: source, Errors: errs}
	}
	return &cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Path = strings.Join(e.Path(), ".")
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
