package mqtt

import (
	"context"
)

// MessageHandler processes one received MQTT message.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a single MQTT session. It never reconnects on its own: once Done
// is closed the client is finished and the caller decides whether to dial a
// new one.
type Client interface {
	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers a handler for a topic filter and sends the
	// SUBSCRIBE packet.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// Disconnect cleanly closes the session.
	Disconnect(ctx context.Context) error

	// Done is closed when the session ends.
	Done() <-chan struct{}

	// Err reports why the session ended. It is nil after Disconnect.
	Err() error
}
