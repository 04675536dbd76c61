// Package broadcast propagates state deltas between tabs of the same origin.
//
// Delivery is best effort and at most once. Receivers must treat every payload
// as a hint and re-run the sequencer merge on it.
package broadcast

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport is a publish/subscribe primitive on a single fixed topic.
type Transport interface {
	// Publish sends payload to every other subscriber.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe registers handler and returns once the subscription is live.
	// Delivery stops when ctx is cancelled or the transport is closed.
	Subscribe(ctx context.Context, handler func(payload []byte)) error
	Close() error
}

// Broadcaster stamps outgoing deltas with this tab's origin and filters them out on receipt.
type Broadcaster struct {
	transport Transport
	origin    string
	logger    *zap.Logger
}

// New creates a broadcaster with a fresh origin id.
//
// Parameters:
//   - transport: the bus shared by all tabs; use Noop when there is none
//   - logger: component logger; nil disables logging
//
// Returns:
//   - *Broadcaster: ready to Publish and Listen
func New(transport Transport, logger *zap.Logger) *Broadcaster {
	if transport == nil {
		transport = Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := uuid.NewString()
	return &Broadcaster{
		transport: transport,
		origin:    origin,
		logger:    logger.With(zap.String("component", "broadcast"), zap.String("origin", origin)),
	}
}

// Origin returns the id stamped on every delta this tab publishes.
func (b *Broadcaster) Origin() string {
	return b.origin
}

// Publish announces d to other tabs.
func (b *Broadcaster) Publish(ctx context.Context, d Delta) error {
	payload, err := Encode(b.origin, d)
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, payload); err != nil {
		b.logger.Debug("broadcast publish failed", zap.String("type", d.Type()), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", d.Type(), err)
	}
	return nil
}

// Listen delivers decoded deltas from other tabs. Malformed payloads and this
// tab's own deltas are dropped.
func (b *Broadcaster) Listen(ctx context.Context, handler func(Delta)) error {
	return b.transport.Subscribe(ctx, func(payload []byte) {
		origin, d, err := Decode(payload)
		if err != nil {
			b.logger.Debug("dropping malformed delta", zap.Error(err))
			return
		}
		if origin == b.origin {
			return
		}
		handler(d)
	})
}

// Close closes the underlying transport.
func (b *Broadcaster) Close() error {
	return b.transport.Close()
}

// Noop drops everything; used when no other tab can exist.
type Noop struct{}

func (Noop) Publish(context.Context, []byte) error                { return nil }
func (Noop) Subscribe(context.Context, func(payload []byte)) error { return nil }
func (Noop) Close() error                                          { return nil }
