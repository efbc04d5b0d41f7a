package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/motion"
	"github.com/robocore/robocore/pkg/telemetry"
)

// DefaultStopTimeout bounds how long Stop waits for a linear routine to
// reach a suspension point before abandoning it.
const DefaultStopTimeout = 2 * time.Second

// Engine runs one OpMode at a time.
type Engine struct {
	catalog     *Catalog
	pool        *hardware.Pool
	source      input.Source
	sink        telemetry.Sink
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
	journal     Journal
	guard       motion.Guard
	quantum     time.Duration
	stopTimeout time.Duration
	newID       func() string

	// initMu serializes Init so two activations never overlap.
	initMu sync.Mutex

	mu      sync.Mutex
	current *run
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry sets logging, metrics, tracing and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		if tel != nil {
			e.tel = tel
		}
	}
}

// WithJournal records every activation.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithGuard checks every motion request before it actuates.
func WithGuard(g motion.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithQuantum sets the scheduling cycle.
func WithQuantum(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.quantum = d
		}
	}
}

// WithStopTimeout sets how long a linear routine may ignore a stop.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stopTimeout = d
		}
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an engine. source and sink may be nil, in which case the
// gamepads stay at rest and telemetry rows are discarded.
func New(catalog *Catalog, pool *hardware.Pool, source input.Source, sink telemetry.Sink, opts ...Option) *Engine {
	if source == nil {
		source = input.Static{}
	}
	if sink == nil {
		sink = telemetry.Discard{}
	}
	e := &Engine{
		catalog:     catalog,
		pool:        pool,
		source:      source,
		sink:        sink,
		tel:         telemetry.Nop(),
		quantum:     motion.DefaultQuantum,
		stopTimeout: DefaultStopTimeout,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.tel.Logger.NewComponentLogger("engine")
	return e
}

// Catalog returns the OpModes this engine can run.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Quantum returns the scheduling cycle.
func (e *Engine) Quantum() time.Duration { return e.quantum }

// Init selects an OpMode and runs its setup. Any previous activation is
// stopped first and its devices released. Init returns once the OpMode
// is waiting for start, or with the fault that stopped it. If ctx ends
// first the activation is told to stop, so it still reaches STOPPED with
// a safe stop once its setup returns.
func (e *Engine) Init(ctx context.Context, name string) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	ent, err := e.catalog.get(name)
	if err != nil {
		e.tel.Metrics.RecordError(string(ErrorClassConfiguration), ErrCodeOpModeNotFound)
		return err
	}

	if prev := e.active(); prev != nil {
		if err := e.stopRun(ctx, prev); err != nil {
			return fmt.Errorf("stopping %s: %w", prev.desc.Name, err)
		}
	}

	r := newRun(e, ent.desc, e.newID())
	e.mu.Lock()
	e.current = r
	e.mu.Unlock()

	r.logger.Infof("initializing %s opmode", ent.desc.Variant)
	e.tel.Metrics.RecordRunStarted(ent.desc.Name)
	r.transition(StateInitializing)
	if e.journal != nil {
		rec := RunRecord{
			ID:        r.id,
			OpMode:    ent.desc.Name,
			Variant:   ent.desc.Variant,
			State:     StateInitializing,
			StartedAt: r.started,
		}
		if err := e.journal.RunStarted(r.ctx, rec); err != nil {
			r.logger.WithError(err).Warn("journal start failed")
		}
	}

	go r.drive(ent)

	select {
	case <-r.initDone:
		return nil
	case <-r.done:
		return r.Result().Err
	case <-ctx.Done():
		r.requestStop()
		return ctx.Err()
	}
}

// Start signals start. A start received while the OpMode is still
// initializing is kept and applied once init completes.
func (e *Engine) Start() error {
	r := e.active()
	if r == nil {
		return NewCallerError("no opmode initialized", nil).WithCode(ErrCodeNoActiveOpMode)
	}
	if r.State() == StateStopped {
		return NewCallerError("opmode already stopped", nil).
			WithCode(ErrCodeAlreadyStopped).WithOpMode(r.desc.Name)
	}
	r.requestStart()
	return nil
}

// Stop signals stop and waits for the safe stop to complete. It is a
// no-op when nothing is running.
func (e *Engine) Stop(ctx context.Context) error {
	r := e.active()
	if r == nil {
		return nil
	}
	return e.stopRun(ctx, r)
}

func (e *Engine) stopRun(ctx context.Context, r *run) error {
	r.requestStop()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state of the current activation.
func (e *Engine) State() State {
	r := e.active()
	if r == nil {
		return StateUninitialized
	}
	return r.State()
}

// Active reports whether an OpMode is initialized and not yet stopped.
func (e *Engine) Active() bool {
	s := e.State()
	return s != StateUninitialized && !s.IsTerminal()
}

// Current returns the descriptor of the current activation.
func (e *Engine) Current() (Descriptor, bool) {
	r := e.active()
	if r == nil {
		return Descriptor{}, false
	}
	return r.desc, true
}

// Done is closed when the current activation reaches STOPPED. It returns
// nil when nothing has been initialized.
func (e *Engine) Done() <-chan struct{} {
	r := e.active()
	if r == nil {
		return nil
	}
	return r.done
}

// Wait blocks until the current activation stops and returns its result.
func (e *Engine) Wait(ctx context.Context) (Result, error) {
	r := e.active()
	if r == nil {
		return Result{}, NewCallerError("no opmode initialized", nil).WithCode(ErrCodeNoActiveOpMode)
	}
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *Engine) active() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}
