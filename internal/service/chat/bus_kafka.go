package chat

import (
	"context"
	"time"

	"talkroom_server/internal/config"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus routes every room over one topic, keyed by room channel.
// Each subscription runs its own consumer group so every session sees
// every frame of its room.
type KafkaBus struct {
	producer *kafka.Writer
	brokers  []string
	topic    string
}

// NewKafkaBus builds the bus from config.
func NewKafkaBus() *KafkaBus {
	kafkaConfig := config.GetConfig().KafkaConfig
	producer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkaConfig.HostPort),
		Topic:                  kafkaConfig.ChatTopic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           kafkaConfig.Timeout * time.Second,
		RequiredAcks:           kafka.RequireNone,
		AllowAutoTopicCreation: false,
	}
	return &KafkaBus{
		producer: producer,
		brokers:  []string{kafkaConfig.HostPort},
		topic:    kafkaConfig.ChatTopic,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, channel string, payload []byte) error {
	err := b.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: payload,
	})
	if err != nil {
		return errorx.Wrapf(err, errorx.CodeInternalServerError, "publish to %s", channel)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     "chat-" + uuid.New().String(),
		StartOffset: kafka.LastOffset,
	})
	sub := &kafkaSubscription{
		reader:  reader,
		channel: channel,
		frames:  make(chan []byte, constants.ChannelSize),
		done:    make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub, nil
}

func (b *KafkaBus) Close() error {
	if err := b.producer.Close(); err != nil {
		return errorx.Wrap(err, errorx.CodeInternalServerError, "close kafka producer")
	}
	return nil
}

type kafkaSubscription struct {
	reader  *kafka.Reader
	channel string
	frames  chan []byte
	done    chan struct{}
}

func (s *kafkaSubscription) pump(ctx context.Context) {
	defer close(s.frames)
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			select {
			case <-s.done:
			case <-ctx.Done():
			default:
				zap.L().Error("kafka read failed", zap.Error(err))
			}
			return
		}
		// One shared topic carries all rooms; drop other rooms' frames.
		if string(msg.Key) != s.channel {
			continue
		}
		select {
		case s.frames <- msg.Value:
		case <-s.done:
			return
		}
	}
}

func (s *kafkaSubscription) Messages() <-chan []byte { return s.frames }

func (s *kafkaSubscription) Close() error {
	close(s.done)
	return s.reader.Close()
}
