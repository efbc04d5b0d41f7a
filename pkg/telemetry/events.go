package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle or motion event.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	OpMode    string                 `json:"opmode,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTransition    = "opmode.transition"
	EventTypeRunStopped    = "opmode.stopped"
	EventTypeRunFault      = "opmode.fault"
	EventTypeMotionDone    = "motion.completed"
	EventTypeMotionAborted = "motion.aborted"
	EventTypePolicyDenied  = "policy.denied"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter decides whether an event is delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, optionally from a
// background goroutine so publishers on the control path never block.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{config: cfg, ctx: ctx, cancel: cancel}
	if !cfg.Enabled {
		return ep, nil
	}
	if cfg.MaxBatchSize <= 0 {
		ep.config.MaxBatchSize = 1
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish stamps and delivers event. When the async buffer is full the
// event is dropped and an error returned.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, %s dropped", event.Type)
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishTransition publishes a lifecycle state change.
func (ep *EventPublisher) PublishTransition(runID, opmode, from, to string) error {
	return ep.Publish(Event{
		Type:    EventTypeTransition,
		Source:  "engine",
		RunID:   runID,
		OpMode:  opmode,
		Message: fmt.Sprintf("%s: %s -> %s", opmode, from, to),
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishRunStopped publishes the end of an activation.
func (ep *EventPublisher) PublishRunStopped(runID, opmode, outcome string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStopped,
		Source:  "engine",
		RunID:   runID,
		OpMode:  opmode,
		Message: fmt.Sprintf("%s stopped (%s)", opmode, outcome),
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	})
}

// PublishFault publishes an OpMode fault.
func (ep *EventPublisher) PublishFault(runID, opmode, class, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFault,
		Source:  "engine",
		RunID:   runID,
		OpMode:  opmode,
		Message: fmt.Sprintf("%s faulted: %s", opmode, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"class":  class,
			"reason": reason,
		},
	})
}

// PublishMotion publishes the end of a motion request.
func (ep *EventPublisher) PublishMotion(kind, outcome string, duration time.Duration) error {
	typ, level := EventTypeMotionDone, EventLevelInfo
	if outcome != "completed" {
		typ, level = EventTypeMotionAborted, EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    typ,
		Source:  "motion",
		Message: fmt.Sprintf("%s motion %s", kind, outcome),
		Level:   level,
		Data: map[string]interface{}{
			"kind":     kind,
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPolicyDenied publishes a denied motion.
func (ep *EventPublisher) PublishPolicyDenied(opmode, rule, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		OpMode:  opmode,
		Message: fmt.Sprintf("motion denied by %s: %s", rule, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"rule":   rule,
			"reason": reason,
		},
	})
}

// Subscribe registers a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a filter applied before buffering.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Deliver when the batch is full or the buffer has drained.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls subscribers in order on the delivering goroutine.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel admits events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType admits the listed event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID admits events of one activation.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
