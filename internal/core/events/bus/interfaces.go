package bus

import "time"

// EventBus is the in-process pub/sub channel entities publish their
// notifications on.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type() string.
// - Topics: every entity publishes on a topic named after its ID, so a
//   consumer can scope itself to one connector or assembly. The default
//   topic is "" and receives nothing implicitly.
// - Synchronous, ordered delivery: Publish calls handlers in the caller
//   goroutine in subscription order.
// - Error aggregation: handler errors are joined and returned from Publish.
// - Observers see every publication on every topic (telemetry, metrics,
//   persistence).
type EventBus interface {
	// Publish delivers the event to subscribers of event.Type() on the default topic.
	Publish(event Event) error
	// PublishToTopic delivers the event to subscribers of event.Type() on topic.
	PublishToTopic(topic string, event Event) error
	// PublishWithFilters applies filters before delivery; if any filter returns false,
	// the event is dropped and not delivered to handlers.
	PublishWithFilters(topic string, event Event, filters ...EventFilter) error

	// Subscribe registers a handler for eventType on the default topic.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// SubscribeTopic registers a handler for eventType within a topic.
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// AddObserver registers an observer to receive every publication.
	AddObserver(obs EventBusObserver)
	// RemoveObserver unregisters a previously added observer.
	RemoveObserver(obs EventBusObserver)

	GetMetrics() EventBusMetrics
	GetTopics() []TopicInfo
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is invoked per delivered event. Errors are aggregated.
	EventHandler func(event Event) error
	// EventFilter decides whether an event should be delivered.
	EventFilter func(event Event) bool
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about publications and deliveries.
// Observers run synchronously and should return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}

type TopicInfo struct {
	Name       string
	EventTypes int
	Subs       int
}
