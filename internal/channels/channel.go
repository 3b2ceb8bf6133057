// Package channels provides the channel abstraction bridging external
// chat platforms to the message bus, adapted from the teacher's richer
// multi-platform channel layer and original_source/core/channels/manager.py.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is the interface every platform adapter implements: bind to
// the bus once at construction, then start/stop/send.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel provides the shared bus-binding and running-state
// bookkeeping every adapter embeds.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

func (c *BaseChannel) Name() string            { return c.name }
func (c *BaseChannel) IsRunning() bool         { return c.running }
func (c *BaseChannel) SetRunning(running bool) { c.running = running }
func (c *BaseChannel) Bus() *bus.MessageBus    { return c.bus }

// HandleMessage publishes an InboundMessage to the bus on the
// channel's behalf.
func (c *BaseChannel) HandleMessage(userID, text string, metadata map[string]string) {
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		UserID:   userID,
		Text:     text,
		Metadata: metadata,
	})
}
