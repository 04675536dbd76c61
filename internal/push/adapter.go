// Package push binds the session to the server's real-time event stream.
//
// Inbound frames are parsed into typed events at the boundary; anything that
// does not parse is dropped. Outbound toggles are fire-and-forget frames.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Adapter subscribes to a Source exactly once and reconnects with exponential backoff.
type Adapter struct {
	source     Source
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	subscribed atomic.Bool
	mu         sync.Mutex
	cancel     context.CancelFunc
	onConnect  []func()
	wg         sync.WaitGroup
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithBackoff bounds the reconnect delay.
func WithBackoff(minDelay, maxDelay time.Duration) AdapterOption {
	return func(a *Adapter) {
		if minDelay > 0 {
			a.minBackoff = minDelay
		}
		if maxDelay >= a.minBackoff {
			a.maxBackoff = maxDelay
		}
	}
}

// NewAdapter wraps a frame source.
//
// Parameters:
//   - source: the connection to read from and emit on
//   - logger: component logger; nil disables logging
//   - opts: reconnect backoff bounds
//
// Returns:
//   - *Adapter: an adapter that stays idle until Subscribe
func NewAdapter(source Source, logger *zap.Logger, opts ...AdapterOption) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		source:     source,
		logger:     logger.With(zap.String("component", "push")),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnConnect registers fn to run after every successful connect, including
// reconnects. Rooms joined on a dropped connection are gone, so this is where
// callers re-join them. fn runs on the reader goroutine and must not block.
func (a *Adapter) OnConnect(fn func()) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.onConnect = append(a.onConnect, fn)
	a.mu.Unlock()
}

func (a *Adapter) connected() {
	a.mu.Lock()
	hooks := slices.Clone(a.onConnect)
	a.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Subscribe starts delivering parsed events to handler. Only the first call
// binds; later calls return false and leave the existing subscription alone.
//
// Parameters:
//   - ctx: bounds the subscription; cancelling it stops the reconnect loop
//   - handler: receives every frame that parses into an Event
//
// Returns:
//   - bool: true if this call bound the subscription
func (a *Adapter) Subscribe(ctx context.Context, handler func(Event)) bool {
	if !a.subscribed.CompareAndSwap(false, true) {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	a.wg.Go(func() {
		a.run(ctx, handler)
	})
	return true
}

func (a *Adapter) run(ctx context.Context, handler func(Event)) {
	backoff := a.minBackoff
	for {
		var received atomic.Bool
		err := a.source.Run(ctx, a.connected, func(frame []byte) {
			received.Store(true)
			ev, err := Parse(frame)
			if err != nil {
				a.logger.Debug("dropping push event", zap.Error(err))
				return
			}
			handler(ev)
		})
		if ctx.Err() != nil {
			return
		}
		if received.Load() {
			backoff = a.minBackoff
		}
		a.logger.Warn("real-time channel lost, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, a.maxBackoff)
	}
}

// Close stops the subscription and waits for the reader to exit.
func (a *Adapter) Close() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

// Emit sends an outbound frame. roomID may be empty for user-scoped events.
//
// Parameters:
//   - eventType: outbound event name, one of the Emit* constants
//   - roomID: target room, e.g. RoomID(channelID)
//   - payload: JSON-encodable body
//
// Returns:
//   - error: ErrNotConnected (wrapped) while no connection is live, or an encoding error
func (a *Adapter) Emit(ctx context.Context, eventType, roomID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Envelope{Type: eventType, RoomID: roomID, Payload: body})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}
	if err := a.source.Send(ctx, frame); err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}
	return nil
}

type messageRef struct {
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji,omitempty"`
}

// PinMessage asks the server to pin messageID in the room of channelID.
func (a *Adapter) PinMessage(ctx context.Context, channelID, messageID string) error {
	return a.Emit(ctx, EmitPin, RoomID(channelID), messageRef{ChannelID: channelID, MessageID: messageID})
}

// UnpinMessage asks the server to unpin messageID.
func (a *Adapter) UnpinMessage(ctx context.Context, channelID, messageID string) error {
	return a.Emit(ctx, EmitUnpin, RoomID(channelID), messageRef{ChannelID: channelID, MessageID: messageID})
}

// ToggleSave flips the saved flag of messageID for the connected user.
func (a *Adapter) ToggleSave(ctx context.Context, messageID string) error {
	return a.Emit(ctx, EmitToggleSave, "", messageRef{MessageID: messageID})
}

// ToggleReaction flips the connected user's emoji reaction on messageID.
func (a *Adapter) ToggleReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return a.Emit(ctx, EmitToggleReaction, RoomID(channelID),
		messageRef{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
}

// Typing announces that the connected user is typing in channelID.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	return a.Emit(ctx, EmitTyping, RoomID(channelID), struct {
		ChannelID string `json:"channelId"`
	}{channelID})
}

// JoinRoom asks the server to route a channel's events to this connection.
func (a *Adapter) JoinRoom(ctx context.Context, channelID string) error {
	return a.Emit(ctx, EmitJoin, RoomID(channelID), struct {
		ChannelID string `json:"channelId"`
	}{channelID})
}
