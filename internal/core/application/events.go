package application

import (
	"encoding/json"
	"sync"

	"github.com/paychan-labs/paychand/internal/core/domain"
)

type EventType string

const (
	EventIncomingPrepare EventType = "incoming_prepare"
	EventOutgoingPrepare EventType = "outgoing_prepare"
	EventIncomingFulfill EventType = "incoming_fulfill"
	EventOutgoingFulfill EventType = "outgoing_fulfill"
	EventIncomingReject  EventType = "incoming_reject"
	EventOutgoingReject  EventType = "outgoing_reject"
	EventIncomingCancel  EventType = "incoming_cancel"
	EventOutgoingCancel  EventType = "outgoing_cancel"
	EventIncomingMessage EventType = "incoming_message"
)

// Event carries the fields relevant to its type; unrelated fields are zero.
type Event struct {
	Type        EventType
	Transfer    *domain.Transfer
	Fulfillment string
	Reason      string
	Message     json.RawMessage
}

type EventHandler func(event Event)

// notifier fans events out to subscribed handlers. Publication happens inside
// the state transition that produced the event, so each transition is
// observed exactly once; handlers run synchronously and must not block.
type notifier struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

func newNotifier() *notifier {
	return &notifier{handlers: make(map[EventType][]EventHandler)}
}

func (n *notifier) subscribe(eventType EventType, handler EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[eventType] = append(n.handlers[eventType], handler)
}

func (n *notifier) publish(event Event) {
	n.mu.RLock()
	handlers := n.handlers[event.Type]
	n.mu.RUnlock()
	for _, handler := range handlers {
		handler(event)
	}
}
