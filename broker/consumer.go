package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"webhook-notifier/metrics"
)

// Handler processes one message. A nil error acknowledges it; any error
// leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Group  string
	Name   string
	Topics []string

	// Block is how long one read waits for new entries.
	Block time.Duration
	// ClaimIdle is how long an entry stays unacknowledged before this
	// consumer claims it again.
	ClaimIdle time.Duration
	// Count caps entries per read.
	Count int64
	// MaxDeliveries is how many times an entry is handed to the handler
	// before it is moved to the topic's dead-letter stream.
	MaxDeliveries int64

	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (c *ConsumerConfig) applyDefaults() {
	if c.Block == 0 {
		c.Block = 5 * time.Second
	}
	if c.ClaimIdle == 0 {
		c.ClaimIdle = time.Minute
	}
	if c.Count == 0 {
		c.Count = 10
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = 10
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
}

// Consumer reads topics through a consumer group, one message at a time.
type Consumer struct {
	client redis.UniversalClient
	cfg    ConsumerConfig
	logger logrus.FieldLogger
}

func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig, logger logrus.FieldLogger) *Consumer {
	cfg.applyDefaults()
	return &Consumer{client: client, cfg: cfg, logger: logger}
}

// Setup creates the consumer group on every topic, creating the streams
// when missing.
func (c *Consumer) Setup(ctx context.Context) error {
	for _, topic := range c.cfg.Topics {
		err := c.client.XGroupCreateMkStream(ctx, topic, c.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}

	streams := make([]string, 0, 2*len(c.cfg.Topics))
	streams = append(streams, c.cfg.Topics...)
	for range c.cfg.Topics {
		streams = append(streams, ">")
	}

	delay := c.cfg.BaseDelay
	var lastClaim time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastClaim) >= c.cfg.ClaimIdle/2 {
			c.claim(ctx, h)
			lastClaim = time.Now()
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  streams,
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Warnf("read failed, retrying in %s", delay)
			sleep(ctx, delay)
			delay = min(delay*2, c.cfg.MaxDelay)
			continue
		}
		delay = c.cfg.BaseDelay

		for _, stream := range res {
			for _, m := range stream.Messages {
				c.process(ctx, stream.Stream, m, h)
			}
		}
	}
}

// claim takes over entries left pending past ClaimIdle, including this
// consumer's own failed ones, and processes them again.
func (c *Consumer) claim(ctx context.Context, h Handler) {
	for _, topic := range c.cfg.Topics {
		start := "0-0"
		for {
			msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   topic,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Name,
				MinIdle:  c.cfg.ClaimIdle,
				Start:    start,
				Count:    c.cfg.Count,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.WithError(err).WithField("topic", topic).Warn("failed to claim pending messages")
				}
				break
			}
			deliveries := c.deliveries(ctx, topic, msgs)
			for _, m := range msgs {
				if deliveries[m.ID] > c.cfg.MaxDeliveries {
					c.deadLetter(ctx, topic, m, deliveries[m.ID])
					continue
				}
				c.process(ctx, topic, m, h)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

// DeadLetterTopic is the stream that receives entries of topic which
// exhausted their deliveries.
func DeadLetterTopic(topic string) string {
	return topic + ".dead"
}

// deliveries returns how often each claimed entry has been delivered.
func (c *Consumer) deliveries(ctx context.Context, topic string, msgs []redis.XMessage) map[string]int64 {
	counts := make(map[string]int64, len(msgs))
	if len(msgs) == 0 {
		return counts
	}
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   topic,
		Group:    c.cfg.Group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: c.cfg.Name,
	}).Result()
	if err != nil {
		c.logger.WithError(err).WithField("topic", topic).Warn("failed to read delivery counts")
		return counts
	}
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts
}

// deadLetter moves an entry out of the group so it stops being retried.
func (c *Consumer) deadLetter(ctx context.Context, topic string, m redis.XMessage, deliveries int64) {
	log := c.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"id":         m.ID,
		"deliveries": deliveries,
	})
	values := make(map[string]any, len(m.Values)+1)
	for k, v := range m.Values {
		values[k] = v
	}
	values["id"] = m.ID
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterTopic(topic), Values: values}).Err(); err != nil {
		log.WithError(err).Warn("failed to dead-letter message")
		return
	}
	if err := c.client.XAck(context.WithoutCancel(ctx), topic, c.cfg.Group, m.ID).Err(); err != nil {
		log.WithError(err).Warn("failed to ack dead-lettered message")
		return
	}
	metrics.BrokerMessagesTotal.WithLabelValues(topic, "dead").Inc()
	log.Error("message exhausted its deliveries, moved to dead-letter stream")
}

func (c *Consumer) process(ctx context.Context, topic string, m redis.XMessage, h Handler) {
	msg := toMessage(topic, m)
	if err := h(ctx, msg); err != nil {
		metrics.BrokerMessagesTotal.WithLabelValues(topic, "error").Inc()
		c.logger.WithError(err).WithFields(logrus.Fields{
			"topic": topic,
			"id":    m.ID,
			"key":   msg.Key,
		}).Error("handler failed, message left pending")
		return
	}
	// a handled message is acked even when shutdown has begun
	if err := c.client.XAck(context.WithoutCancel(ctx), topic, c.cfg.Group, m.ID).Err(); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"topic": topic,
			"id":    m.ID,
		}).Warn("failed to ack message")
		return
	}
	metrics.BrokerMessagesTotal.WithLabelValues(topic, "ok").Inc()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
