package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"webhook-notifier/cache"
)

const (
	fieldKey   = "key"
	fieldValue = "value"
)

var ErrMalformedMessage = errors.New("malformed broker message")

// Message is one entry read from a topic stream.
type Message struct {
	Topic string
	ID    string
	Key   string
	Value []byte
}

// Decode unmarshals the message value into v.
func (m Message) Decode(v any) error {
	if err := cache.Unmarshal(m.Value, v); err != nil {
		return errors.Join(ErrMalformedMessage, err)
	}
	return nil
}

// Publisher appends msgpack-encoded values to topic streams.
type Publisher struct {
	client redis.UniversalClient
	maxLen int64
}

// NewPublisher trims each stream to roughly maxLen entries; 0 disables trimming.
func NewPublisher(client redis.UniversalClient, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := cache.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{fieldKey: key, fieldValue: data},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func toMessage(topic string, m redis.XMessage) Message {
	msg := Message{Topic: topic, ID: m.ID}
	if k, ok := m.Values[fieldKey].(string); ok {
		msg.Key = k
	}
	if v, ok := m.Values[fieldValue].(string); ok {
		msg.Value = []byte(v)
	}
	return msg
}
