package telemetry

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Sink is the driver-station display channel. Rows keep insertion order
// and are published only when Flush is called.
type Sink interface {
	AddRow(caption string, value any)
	Flush() error
}

// Row is one caption/value pair.
type Row struct {
	Caption string
	Value   string
}

// Frame is one published set of rows.
type Frame []Row

// Panel is a Sink that renders each flushed frame as text and keeps the
// frames for inspection.
type Panel struct {
	mu      sync.Mutex
	out     io.Writer
	logger  *Logger
	pending []Row
	frames  []Frame
	keep    int
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithPanelOutput renders frames to w.
func WithPanelOutput(w io.Writer) PanelOption {
	return func(p *Panel) { p.out = w }
}

// WithPanelLogger logs each frame at debug level.
func WithPanelLogger(l *Logger) PanelOption {
	return func(p *Panel) { p.logger = l }
}

// WithPanelHistory bounds how many frames are retained; 0 keeps all.
func WithPanelHistory(n int) PanelOption {
	return func(p *Panel) { p.keep = n }
}

// NewPanel creates a panel.
func NewPanel(opts ...PanelOption) *Panel {
	p := &Panel{keep: 256}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddRow implements Sink.
func (p *Panel) AddRow(caption string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, Row{Caption: caption, Value: render(value)})
}

// Flush implements Sink. Flushing with no rows publishes nothing.
func (p *Panel) Flush() error {
	p.mu.Lock()
	frame := Frame(p.pending)
	p.pending = nil
	if len(frame) > 0 {
		p.frames = append(p.frames, frame)
		if p.keep > 0 && len(p.frames) > p.keep {
			p.frames = p.frames[len(p.frames)-p.keep:]
		}
	}
	p.mu.Unlock()

	if len(frame) == 0 {
		return nil
	}
	if p.logger != nil {
		p.logger.Debugf("telemetry %s", frame)
	}
	if p.out != nil {
		if _, err := io.WriteString(p.out, frame.String()+"\n"); err != nil {
			return fmt.Errorf("telemetry flush: %w", err)
		}
	}
	return nil
}

// Frames returns the retained frames, oldest first.
func (p *Panel) Frames() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Frame(nil), p.frames...)
}

// Last returns the most recent frame, or nil.
func (p *Panel) Last() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return nil
	}
	return p.frames[len(p.frames)-1]
}

// String renders the frame as "caption: value | caption: value".
func (f Frame) String() string {
	parts := make([]string, len(f))
	for i, r := range f {
		parts[i] = r.Caption + ": " + r.Value
	}
	return strings.Join(parts, " | ")
}

// Get returns the value of the first row with caption.
func (f Frame) Get(caption string) (string, bool) {
	for _, r := range f {
		if r.Caption == caption {
			return r.Value, true
		}
	}
	return "", false
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.3f", x)
	case float32:
		return fmt.Sprintf("%.3f", x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) AddRow(string, any) {}
func (Discard) Flush() error       { return nil }
