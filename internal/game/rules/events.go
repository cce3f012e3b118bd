package rules

import (
	"sync"
	"time"
)

// EventType indicates the category of a game event.
type EventType string

const (
	// Lifecycle events
	EventGameCreated    EventType = "GAME_CREATED"
	EventPlayerJoined   EventType = "PLAYER_JOINED"
	EventGameStarted    EventType = "GAME_STARTED"
	EventGameEnded      EventType = "GAME_ENDED"
	EventGameTerminated EventType = "GAME_TERMINATED"

	// Turn events
	EventTurnStarted      EventType = "TURN_STARTED"
	EventSubphaseChanged  EventType = "SUBPHASE_CHANGED"
	EventPlayerReady      EventType = "PLAYER_READY"
	EventDiceRolled       EventType = "DICE_ROLLED"
	EventTurnResolved     EventType = "TURN_RESOLVED"
	EventRequirementsGrew EventType = "REQUIREMENTS_GREW"

	// Unit events
	EventUnitBuilt     EventType = "UNIT_BUILT"
	EventUnitDestroyed EventType = "UNIT_DESTROYED"

	// Commitment events
	EventChargesSubmitted EventType = "CHARGES_SUBMITTED"
	EventWindowRevealed   EventType = "WINDOW_REVEALED"

	// Negotiation events
	EventDrawOffered EventType = "DRAW_OFFERED"
	EventDrawRefused EventType = "DRAW_REFUSED"
	EventDrawExpired EventType = "DRAW_EXPIRED"
	EventSurrendered EventType = "SURRENDERED"

	// Any accepted action bumps the state version.
	EventStateChanged EventType = "STATE_CHANGED"
)

// Event represents a state change that other subsystems may react to.
type Event struct {
	Type        EventType
	GameID      string
	PlayerID    string
	SourceID    string
	Version     uint64
	Amount      int
	Subphase    Subphase
	Phase       Phase
	Timestamp   time.Time
	Metadata    map[string]string
	Description string
}

// Listener defines a callback that reacts to incoming events.
type Listener func(Event)

// TypedListener defines a callback that reacts to a specific event type.
type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus provides a synchronous publish/subscribe implementation with type filtering.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener              // All listeners
	typedListeners map[EventType][]TypedListener // Listeners filtered by event type
	nextHandle     int
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes the listener identified by the provided handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}

	if typedListeners, ok := bus.typedListeners[event.Type]; ok {
		for _, listener := range typedListeners {
			listener.Callback(event)
		}
	}
}

// PublishBatch publishes multiple events in order.
func (bus *EventBus) PublishBatch(events []Event) {
	for _, event := range events {
		bus.Publish(event)
	}
}

// NewEvent creates a new event with common fields populated.
func NewEvent(eventType EventType, gameID, playerID string) Event {
	return Event{
		Type:      eventType,
		GameID:    gameID,
		PlayerID:  playerID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
}
