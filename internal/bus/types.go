// Package bus is the in-process message bus bridging channel adapters
// and the agent loop: two buffered queues (inbound, outbound) with
// non-blocking publish, grounded on original_source/core/channels/bus.py.
package bus

import "context"

// InboundMessage is a message received from an external channel, per
// spec.md §3.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	UserID   string            `json:"user_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered to an external channel.
type OutboundMessage struct {
	Channel     string            `json:"channel"`
	UserID      string            `json:"user_id"`
	Text        string            `json:"text"`
	ReplyMarkup interface{}       `json:"reply_markup,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between
// channels and the agent runtime, so callers can depend on the
// interface instead of the concrete MessageBus.
type MessageRouter interface {
	PublishInbound(msg InboundMessage) bool
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage) bool
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
