package console

import (
	"sync"

	"github.com/robocore/robocore/pkg/console/protocol"
	"github.com/robocore/robocore/pkg/telemetry"
)

// Sink is a telemetry.Sink that renders through a Panel and forwards each
// flushed frame to the console.
type Sink struct {
	panel *telemetry.Panel
	enc   *protocol.Encoder

	mu      sync.Mutex
	pending int
}

// NewSink wraps panel. Frames still reach the panel's own output.
func NewSink(panel *telemetry.Panel, enc *protocol.Encoder) *Sink {
	return &Sink{panel: panel, enc: enc}
}

// AddRow implements telemetry.Sink.
func (s *Sink) AddRow(caption string, value any) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	s.panel.AddRow(caption, value)
}

// Flush implements telemetry.Sink. An empty flush sends nothing.
func (s *Sink) Flush() error {
	s.mu.Lock()
	n := s.pending
	s.pending = 0
	s.mu.Unlock()

	if err := s.panel.Flush(); err != nil || n == 0 {
		return err
	}

	frame := s.panel.Last()
	msg := &protocol.TelemetryMessage{Rows: make([]protocol.TelemetryRow, len(frame))}
	for i, row := range frame {
		msg.Rows[i] = protocol.TelemetryRow{Caption: row.Caption, Value: row.Value}
	}
	return s.enc.EncodeTelemetry(msg)
}
