package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. A schema registered
// as "robot" is the definition #Robot in its source.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for _, name := range []string{"robot", "motor", "servo", "sensor", "hub", "drivetrain"} {
		if err := sr.RegisterSchema(name, builtinRobotSchema); err != nil {
			panic(err)
		}
	}
}

// Context returns the CUE context schemas are compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers its definition for name.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definitionName(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definitionName(name))
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	return "#" + strings.ToUpper(name[:1]) + name[1:]
}

// builtinRobotSchema defines a robot configuration. Defaults are applied
// when a file omits a field.
const builtinRobotSchema = `
#Name: string & =~"^[a-zA-Z][a-zA-Z0-9_]*$"

#Robot: {
	robot: {
		name:  #Name
		team?: int & >0
	}

	backend: *"sim" | "serial"
	hub?:    #Hub
	if backend == "serial" {
		hub: #Hub
	}

	quantum_ms:      *10 | (int & >=1 & <=1000)
	stop_timeout_ms: *2000 | (int & >=10)

	motors:  [...#Motor]
	servos:  [...#Servo]
	sensors: [...#Sensor]

	drivetrain?: #Drivetrain
	policy?: {
		paths: [string, ...string]
		watch: *false | bool
	}
	scripts: [...string]
}

#Hub: {
	port:            string & !=""
	baud:            *115200 | (int & >0)
	read_timeout_ms: *500 | (int & >0)
}

#PID: {
	kp: *0.01 | number
	ki: *0.0 | number
	kd: *0.0002 | number
}

#Motor: {
	name:             #Name
	port:             int & >=0 & <=255
	direction:        *"forward" | "reverse"
	ticks_per_second: *2800.0 | (number & >0)
	tolerance:        *10 | (int & >=0)
	pid:              #PID
}

#Servo: {
	name: #Name
	port: int & >=0 & <=255
}

#Sensor: {
	name:      #Name
	port:      int & >=0 & <=255
	threshold: *0.5 | (number & >=0 & <=1)
}

#Drivetrain: {
	left:           #Name
	right:          #Name
	mode:           *"pov" | "tank"
	ticks_per_inch: *45.3 | (number & >0)
}
`
