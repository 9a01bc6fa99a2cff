// Package chat implements the realtime core: the per-connection session
// engine, the seven frame handlers, the fan-out bus, and the
// write-behind history syncer.
package chat

import (
	"context"

	"talkroom_server/pkg/errorx"
)

// Bus fans frames out to every live session of a room, across processes.
// Two implementations exist: redis pub/sub (default) and kafka.
type Bus interface {
	// Publish sends a frame to every subscriber of a room channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe opens a per-session stream of a room channel's frames.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Close releases broker resources.
	Close() error
}

// Subscription is one session's view of a room channel.
type Subscription interface {
	// Messages yields frames until the subscription closes.
	Messages() <-chan []byte
	// Close stops delivery and releases the stream.
	Close() error
}

// NewBus selects the bus implementation by configured message mode.
func NewBus(mode string) (Bus, error) {
	switch mode {
	case "", "redis":
		return NewRedisBus(), nil
	case "kafka":
		return NewKafkaBus(), nil
	default:
		return nil, errorx.Newf(errorx.CodeInvalid, "unknown message mode %q", mode)
	}
}
