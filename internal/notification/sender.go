package notification

import "context"

// Sender is the interface for notification delivery implementations.
// Each channel (email, push) has its own Sender implementation.
type Sender interface {
	// Send delivers a message and returns the result.
	Send(ctx context.Context, msg *Message) SendResult

	// Channel returns the channel this sender handles.
	Channel() Channel
}
