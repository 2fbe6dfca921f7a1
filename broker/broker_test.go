package broker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"webhook-notifier/models"
)

func setupTestClient(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublisher_RoundTrip(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	pub := NewPublisher(client, 0)

	job := models.DeliveryJob{WebhookID: "wh", AccountID: "acc", Payload: []byte{0xa1, 0x01}, Type: models.TypeBlock, Confirmations: 3}
	if err := pub.Publish(ctx, models.TopicEvent, "acc-mainnet", job); err != nil {
		t.Fatal(err)
	}

	entries, err := client.XRange(ctx, models.TopicEvent, "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %v (%v)", entries, err)
	}
	msg := toMessage(models.TopicEvent, entries[0])
	if msg.Key != "acc-mainnet" {
		t.Errorf("unexpected key %q", msg.Key)
	}

	var got models.DeliveryJob
	if err := msg.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.WebhookID != "wh" || got.Confirmations != 3 || len(got.Payload) != 2 {
		t.Errorf("unexpected job: %+v", got)
	}
}

func TestMessage_DecodeMalformed(t *testing.T) {
	var job models.DeliveryJob
	err := Message{Value: []byte{0xc1}}.Decode(&job)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestConsumer_AcksOnlyHandledMessages(t *testing.T) {
	client := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(client, 0)
	c := NewConsumer(client, ConsumerConfig{
		Group:     "g",
		Name:      "c1",
		Topics:    []string{models.TopicNewBlock, models.TopicEvent},
		Block:     20 * time.Millisecond,
		ClaimIdle: time.Hour,
	}, quietLogger())
	if err := c.Setup(ctx); err != nil {
		t.Fatal(err)
	}

	pub.Publish(ctx, models.TopicNewBlock, "k1", models.Block{BlockNo: 1})
	pub.Publish(ctx, models.TopicNewBlock, "k2", models.Block{BlockNo: 2})
	pub.Publish(ctx, models.TopicEvent, "k3", models.DeliveryJob{WebhookID: "wh"})

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, func(_ context.Context, msg Message) error {
			mu.Lock()
			seen = append(seen, msg.Key)
			n := len(seen)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
			if msg.Key == "k2" {
				return errors.New("transient")
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 deliveries, got %v", seen)
	}

	pending, err := client.XPending(context.Background(), models.TopicNewBlock, "g").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 1 {
		t.Errorf("expected the failed message to stay pending, got %d", pending.Count)
	}
	pending, _ = client.XPending(context.Background(), models.TopicEvent, "g").Result()
	if pending.Count != 0 {
		t.Errorf("expected wbh_event fully acked, got %d pending", pending.Count)
	}
}

func TestConsumer_DeadLettersExhaustedMessages(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	c := NewConsumer(client, ConsumerConfig{
		Group:         "g",
		Name:          "c1",
		Topics:        []string{models.TopicNewBlock},
		ClaimIdle:     time.Millisecond,
		MaxDeliveries: 2,
	}, quietLogger())
	if err := c.Setup(ctx); err != nil {
		t.Fatal(err)
	}
	NewPublisher(client, 0).Publish(ctx, models.TopicNewBlock, "k1", models.Block{BlockNo: 1})

	// first delivery, left pending
	if _, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "g",
		Consumer: "c1",
		Streams:  []string{models.TopicNewBlock, ">"},
	}).Result(); err != nil {
		t.Fatal(err)
	}

	calls := 0
	failing := func(context.Context, Message) error {
		calls++
		return errors.New("block not found")
	}
	for i := 0; i < 3; i++ {
		time.Sleep(5 * time.Millisecond)
		c.claim(ctx, failing)
	}

	if calls != 1 {
		t.Errorf("expected one redelivery before giving up, got %d", calls)
	}
	pending, _ := client.XPending(ctx, models.TopicNewBlock, "g").Result()
	if pending.Count != 0 {
		t.Errorf("expected nothing pending, got %d", pending.Count)
	}
	dead, err := client.XRange(ctx, DeadLetterTopic(models.TopicNewBlock), "-", "+").Result()
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead-lettered entry, got %v (%v)", dead, err)
	}
	if msg := toMessage(models.TopicNewBlock, dead[0]); msg.Key != "k1" {
		t.Errorf("unexpected dead-lettered key %q", msg.Key)
	}
}
