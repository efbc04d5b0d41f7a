// Package console drives the engine from an operator console speaking the
// NDJSON protocol in pkg/console/protocol. Inbound lines become lifecycle
// signals, gamepad updates and simulated sensor readings; lifecycle
// events and telemetry frames are written back on the same stream.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robocore/robocore/pkg/console/protocol"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/telemetry"
)

// Controller is the part of the engine the console signals.
type Controller interface {
	Init(ctx context.Context, name string) error
	Start() error
	Stop(ctx context.Context) error
}

// GamepadSetter accepts controller updates; input.Latch implements it.
type GamepadSetter interface {
	SetGamepad(index int, g input.Gamepad) error
}

// SensorSetter sets a simulated sensor reading.
type SensorSetter func(name string, value float64) error

// Option configures a Session.
type Option func(*Session)

// WithGamepads routes GAMEPAD messages to pads.
func WithGamepads(pads GamepadSetter) Option {
	return func(s *Session) { s.pads = pads }
}

// WithSensors routes SENSOR messages to set.
func WithSensors(set SensorSetter) Option {
	return func(s *Session) { s.sensors = set }
}

// WithLogger sets the session logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Session) { s.logger = l.NewComponentLogger("console") }
}

// WithSignalTimeout bounds how long INIT and STOP may block.
func WithSignalTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// Session is one console connection.
type Session struct {
	ctrl    Controller
	enc     *protocol.Encoder
	pads    GamepadSetter
	sensors SensorSetter
	logger  *telemetry.Logger
	timeout time.Duration

	mu     sync.Mutex
	faults map[string]string
}

// NewSession creates a session writing to enc.
func NewSession(ctrl Controller, enc *protocol.Encoder, opts ...Option) *Session {
	s := &Session{
		ctrl:    ctrl,
		enc:     enc,
		logger:  telemetry.NewNopLogger(),
		timeout: 5 * time.Second,
		faults:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready announces the robot and its catalog.
func (s *Session) Ready(robot, version string, catalog *engine.Catalog) error {
	msg := &protocol.ReadyMessage{Robot: robot, Version: version, OpModes: []protocol.OpModeInfo{}}
	if catalog != nil {
		for _, d := range catalog.Descriptors() {
			msg.OpModes = append(msg.OpModes, protocol.OpModeInfo{
				Name:        d.Name,
				Group:       d.Group,
				Variant:     string(d.Variant),
				Description: d.Description,
			})
		}
	}
	return s.enc.EncodeReady(msg)
}

// Serve applies messages from r until EOF or ctx is done. A message that
// cannot be decoded or applied is answered with an ERROR line and the
// session continues. It returns nil at EOF.
func (s *Session) Serve(ctx context.Context, r io.Reader) error {
	type decoded struct {
		msg *protocol.Message
		err error
	}

	lines := make(chan decoded)
	go func() {
		defer close(lines)
		dec := protocol.NewDecoder(r)
		for {
			msg, err := dec.Decode()
			select {
			case lines <- decoded{msg, err}:
			case <-ctx.Done():
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrStream) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-lines:
			if !ok {
				return nil
			}
			if errors.Is(d.err, io.EOF) {
				return nil
			}
			if d.err != nil {
				if errors.Is(d.err, protocol.ErrStream) {
					return d.err
				}
				s.reject("BAD_MESSAGE", d.err, "")
				continue
			}
			if err := s.Apply(ctx, d.msg); err != nil {
				s.reject(errorCode(err), err, string(d.msg.Type))
			}
		}
	}
}

// Apply executes one inbound message.
func (s *Session) Apply(ctx context.Context, msg *protocol.Message) error {
	if !msg.Type.Inbound() {
		return fmt.Errorf("%s is not a console message", msg.Type)
	}
	s.logger.Debugf("console %s", msg.Type)

	switch msg.Type {
	case protocol.MessageTypeInit:
		var m protocol.InitMessage
		if err := protocol.ParsePayload(msg, &m); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.ctrl.Init(ctx, m.OpMode)

	case protocol.MessageTypeStart:
		return s.ctrl.Start()

	case protocol.MessageTypeStop:
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.ctrl.Stop(ctx)

	case protocol.MessageTypeGamepad:
		if s.pads == nil {
			return fmt.Errorf("gamepad input is not enabled")
		}
		var m protocol.GamepadMessage
		if err := protocol.ParsePayload(msg, &m); err != nil {
			return err
		}
		return s.pads.SetGamepad(m.Index, m.Gamepad)

	case protocol.MessageTypeSensor:
		if s.sensors == nil {
			return fmt.Errorf("sensor injection is not enabled")
		}
		var m protocol.SensorMessage
		if err := protocol.ParsePayload(msg, &m); err != nil {
			return err
		}
		return s.sensors(m.Name, m.Value)
	}
	return nil
}

// Subscriber reports lifecycle events back to the console.
func (s *Session) Subscriber() telemetry.EventSubscriber {
	return func(ev telemetry.Event) {
		var err error
		switch ev.Type {
		case telemetry.EventTypeTransition:
			err = s.enc.EncodeState(&protocol.StateMessage{
				RunID:  ev.RunID,
				OpMode: ev.OpMode,
				From:   fmt.Sprint(ev.Data["from"]),
				To:     fmt.Sprint(ev.Data["to"]),
			})
		case telemetry.EventTypeRunFault:
			s.mu.Lock()
			s.faults[ev.RunID] = fmt.Sprint(ev.Data["reason"])
			s.mu.Unlock()
		case telemetry.EventTypeRunStopped:
			s.mu.Lock()
			fault := s.faults[ev.RunID]
			delete(s.faults, ev.RunID)
			s.mu.Unlock()

			duration, _ := ev.Data["duration"].(float64)
			err = s.enc.EncodeResult(&protocol.ResultMessage{
				RunID:    ev.RunID,
				OpMode:   ev.OpMode,
				Outcome:  fmt.Sprint(ev.Data["outcome"]),
				Error:    fault,
				Duration: duration,
			})
		}
		if err != nil {
			s.logger.WithError(err).Warn("console write failed")
		}
	}
}

func (s *Session) reject(code string, err error, request string) {
	s.logger.WithError(err).Warnf("console %s rejected", request)
	if werr := s.enc.EncodeError(&protocol.ErrorMessage{
		Code:    code,
		Message: err.Error(),
		Request: request,
	}); werr != nil {
		s.logger.WithError(werr).Warn("console write failed")
	}
}

func errorCode(err error) string {
	var e *engine.Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "REJECTED"
}
