package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

// Manager owns every registered channel's lifecycle and routes
// outbound bus messages to the matching channel.
type Manager struct {
	mu       sync.RWMutex
	order    []string // registration order, reversed on StopAll
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
	log      *slog.Logger
}

func NewManager(msgBus *bus.MessageBus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{channels: make(map[string]Channel), bus: msgBus, log: log}
}

// Register adds a channel. Call before StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; !exists {
		m.order = append(m.order, ch.Name())
	}
	m.channels[ch.Name()] = ch
}

// GetChannel returns a registered channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel (continuing past individual
// failures, matching the Python manager's start_all) and the outbound
// dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	for _, name := range order {
		m.mu.RLock()
		ch := m.channels[name]
		m.mu.RUnlock()
		m.log.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			m.log.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatcher and every channel in reverse
// registration order, isolating per-channel failures.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		m.mu.RLock()
		ch := m.channels[order[i]]
		m.mu.RUnlock()
		m.log.Info("stopping channel", "channel", order[i])
		if err := ch.Stop(ctx); err != nil {
			m.log.Error("error stopping channel", "channel", order[i], "error", err)
		}
	}
	return nil
}

// dispatchOutbound drains the bus's outbound queue and routes each
// message to its channel, skipping internal channels and unknown
// destinations.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return // ctx cancelled
		}
		if IsInternalChannel(msg.Channel) {
			continue
		}
		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			m.log.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			m.log.Error("error sending message", "channel", msg.Channel, "error", err)
		}
	}
}

// SendToChannel delivers text to a specific channel directly,
// bypassing the bus (used by CLI/system callers).
func (m *Manager) SendToChannel(ctx context.Context, channelName, userID, text string) error {
	ch, ok := m.GetChannel(channelName)
	if !ok {
		return fmt.Errorf("channels: channel %q not found", channelName)
	}
	return ch.Send(ctx, bus.OutboundMessage{Channel: channelName, UserID: userID, Text: text})
}
