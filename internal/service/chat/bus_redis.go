package chat

import (
	"context"

	redisdao "talkroom_server/internal/dao/redis"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"github.com/redis/go-redis/v9"
)

// RedisBus multiplexes room frames over redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus uses the shared cache client for pub/sub.
func NewRedisBus() *RedisBus {
	return &RedisBus{client: redisdao.Init().Client()}
}

// NewRedisBusWith wraps an existing client (tests).
func NewRedisBusWith(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errorx.Wrapf(err, errorx.CodeInternalServerError, "publish to %s", channel)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// The first receive confirms the subscription is live before the
	// session starts relying on delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errorx.Wrapf(err, errorx.CodeInternalServerError, "subscribe to %s", channel)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		frames: make(chan []byte, constants.ChannelSize),
	}
	go sub.pump()
	return sub, nil
}

func (b *RedisBus) Close() error { return nil }

type redisSubscription struct {
	pubsub *redis.PubSub
	frames chan []byte
}

func (s *redisSubscription) pump() {
	defer close(s.frames)
	for msg := range s.pubsub.Channel() {
		s.frames <- []byte(msg.Payload)
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.frames }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
