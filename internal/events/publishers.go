package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.log.Info().
		Str("event_id", env.ID.String()).
		Str("type", string(env.Type)).
		Str("pool", env.PoolID.String()).
		RawJSON("payload", env.Payload).
		Msg("pool event")
	return nil
}

// StreamAdder is the subset of a redis client the stream publisher uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

const defaultStreamMaxLen = 100_000

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client StreamAdder
	stream string
	maxLen int64
}

// RedisOption configures a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) RedisOption {
	return func(p *RedisPublisher) { p.maxLen = n }
}

func NewRedisPublisher(client StreamAdder, stream string, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{client: client, stream: stream, maxLen: defaultStreamMaxLen}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":   env.ID.String(),
			"type": string(env.Type),
			"pool": env.PoolID.String(),
			"data": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", p.stream, err)
	}
	return nil
}

// Producer is the subset of a franz-go client the Kafka publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher produces events to a Kafka topic keyed by pool, so events of
// one pool stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewKafkaClient dials brokers with topic as the default produce topic.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return cl, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(env.PoolID.String()),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(env.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", p.topic, err)
	}
	return nil
}
