// Package broker defines the narrow pub/sub surface the core packages use,
// keeping them independent from the MQTT implementation.
package broker

// Handler receives a message delivered on a subscribed topic filter.
type Handler func(topic string, payload []byte)

// Publisher sends a payload to a topic. Implementations must never block
// the caller on a dead connection; dropping with a log line is acceptable.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber registers interest in a topic filter. Implementations must
// re-establish subscriptions after a reconnect.
type Subscriber interface {
	Subscribe(filter string, h Handler) error
}

// PubSub combines both directions of the broker session.
type PubSub interface {
	Publisher
	Subscriber
}
