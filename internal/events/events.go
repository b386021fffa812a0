package events

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// EventMilesRegistered is emitted when a batch is granted
	EventMilesRegistered EventType = "miles.registered"
	// EventMilesRemoved is emitted after a removal is committed
	EventMilesRemoved EventType = "miles.removed"
	// EventAccountActivated is emitted when an account is activated
	EventAccountActivated EventType = "account.activated"
	// EventAccountDeactivated is emitted when an account is deactivated
	EventAccountDeactivated EventType = "account.deactivated"
)

// Event represents an event in the system.
type Event struct {
	Type       EventType
	CustomerID string
	Timestamp  time.Time
	Data       any
}

// MilesRegisteredData contains data for miles registered events.
type MilesRegisteredData struct {
	BatchID   string
	TransitID string
	Miles     int
	ExpiresOn *time.Time
}

// MilesRemovedData contains data for miles removed events.
type MilesRemovedData struct {
	Requested int
	Removed   int
	Strategy  string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// ErrorFunc is called when a handler fails.
type ErrorFunc func(event Event, err error)

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	onError  ErrorFunc
	wg       sync.WaitGroup
}

// NewManager creates a new event manager. onError may be nil.
func NewManager(onError ErrorFunc) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		onError:  onError,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish delivers an event to every subscribed handler. Handlers run on
// their own goroutines and never block the publisher.
func (m *Manager) Publish(ctx context.Context, eventType EventType, customerID string, data any) {
	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:       eventType,
		CustomerID: customerID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}

	// Handlers outlive the request that published the event.
	ctx = context.WithoutCancel(ctx)

	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil && m.onError != nil {
				m.onError(event, err)
			}
		}(handler)
	}
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown drops all subscriptions and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
