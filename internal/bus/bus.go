package bus

import (
	"context"
	"log/slog"
)

// queueCapacity matches core/channels/bus.py's fixed-size deque: once
// full, Publish drops the newest message rather than blocking the
// caller.
const queueCapacity = 1000

// MessageBus is the concrete MessageRouter: two buffered channels, one
// per direction, with non-blocking publish and blocking consume.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	log      *slog.Logger
}

func New(log *slog.Logger) *MessageBus {
	if log == nil {
		log = slog.Default()
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueCapacity),
		outbound: make(chan OutboundMessage, queueCapacity),
		log:      log,
	}
}

// PublishInbound enqueues msg without blocking; if the queue is full
// the message is dropped and logged, matching the Python bus's
// overflow behavior.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		b.log.Warn("inbound queue full, dropping message", "channel", msg.Channel, "user_id", msg.UserID)
		return false
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		b.log.Warn("outbound queue full, dropping message", "channel", msg.Channel, "user_id", msg.UserID)
		return false
	}
}

func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

var _ MessageRouter = (*MessageBus)(nil)
