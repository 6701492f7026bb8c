package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the provisioning engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ProviderID is the provider the run concerns, if applicable.
	ProviderID string `json:"provider_id,omitempty"`

	// InstallID is the install the run concerns, if applicable.
	InstallID string `json:"install_id,omitempty"`

	// Step is the associated pipeline step, if applicable.
	Step string `json:"step,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeStepStarted     = "step.started"
	EventTypeStepCompleted   = "step.completed"
	EventTypeStepFailed      = "step.failed"
	EventTypeApplyCompleted  = "apply.completed"
	EventTypeConformanceFail = "conformance.failed"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
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

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a provisioning run started event.
func (ep *EventPublisher) PublishRunStarted(providerID, installID string, mode string) error {
	return ep.Publish(Event{
		Type:       EventTypeRunStarted,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Message:    fmt.Sprintf("provisioning run started for %s/%s (mode=%s)", providerID, installID, mode),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishRunCompleted publishes a provisioning run completed event.
func (ep *EventPublisher) PublishRunCompleted(providerID, installID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeRunCompleted,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Message:    fmt.Sprintf("provisioning run completed for %s/%s", providerID, installID),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a provisioning run failed event.
func (ep *EventPublisher) PublishRunFailed(providerID, installID, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeRunFailed,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Message:    fmt.Sprintf("provisioning run failed for %s/%s: %s", providerID, installID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepStarted publishes a pipeline step started event.
func (ep *EventPublisher) PublishStepStarted(providerID, installID, step string) error {
	return ep.Publish(Event{
		Type:       EventTypeStepStarted,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Step:       step,
		Message:    fmt.Sprintf("step %s started for %s/%s", step, providerID, installID),
		Level:      EventLevelInfo,
	})
}

// PublishStepCompleted publishes a pipeline step completed event.
func (ep *EventPublisher) PublishStepCompleted(providerID, installID, step string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeStepCompleted,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Step:       step,
		Message:    fmt.Sprintf("step %s completed for %s/%s", step, providerID, installID),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStepFailed publishes a pipeline step failed event.
func (ep *EventPublisher) PublishStepFailed(providerID, installID, step, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeStepFailed,
		Source:     "engine",
		ProviderID: providerID,
		InstallID:  installID,
		Step:       step,
		Message:    fmt.Sprintf("step %s failed for %s/%s: %s", step, providerID, installID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishApplyCompleted publishes an apply-report-produced event.
func (ep *EventPublisher) PublishApplyCompleted(providerID, installID string, configChanges, secretSetKeys int) error {
	return ep.Publish(Event{
		Type:       EventTypeApplyCompleted,
		Source:     "applier",
		ProviderID: providerID,
		InstallID:  installID,
		Message:    fmt.Sprintf("apply completed for %s/%s: %d config changes, %d secrets set", providerID, installID, configChanges, secretSetKeys),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"config_changes":  configChanges,
			"secret_set_keys": secretSetKeys,
		},
	})
}

// PublishConformanceFailed publishes a conformance-check-failed event.
func (ep *EventPublisher) PublishConformanceFailed(providerID, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeConformanceFail,
		Source:     "conformance",
		ProviderID: providerID,
		Message:    fmt.Sprintf("conformance check failed for pack %s: %s", providerID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			// Deliver a partial batch once FlushInterval has elapsed
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush runs a ticker until shutdown; the FlushInterval flush of
// a partial batch itself happens in processEvents.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
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

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
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

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByProviderID creates a filter that only allows events for a specific provider.
func FilterByProviderID(providerID string) EventFilter {
	return func(event Event) bool {
		return event.ProviderID == providerID
	}
}

// FilterByInstallID creates a filter that only allows events for a specific install.
func FilterByInstallID(installID string) EventFilter {
	return func(event Event) bool {
		return event.InstallID == installID
	}
}
