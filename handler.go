package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"webhook-notifier/broker"
	"webhook-notifier/models"
	"webhook-notifier/notify"
)

// EventRouter turns blockchain events into delivery jobs.
type EventRouter interface {
	OnEpoch(ctx context.Context, epoch models.Epoch) error
	OnBlock(ctx context.Context, block models.Block) error
	OnDelegation(ctx context.Context, d models.Delegation) error
	OnTransaction(ctx context.Context, tx models.Transaction) error
	OnPayment(ctx context.Context, p models.Payment) error
}

// JobNotifier delivers one job.
type JobNotifier interface {
	Notify(ctx context.Context, job models.DeliveryJob) (notify.Outcome, error)
}

// BlockReleaser re-presents parked jobs as the chain grows.
type BlockReleaser interface {
	Release(ctx context.Context, network string, blockNo int64) (int, error)
}

// Handler dispatches broker messages by topic. Any of its parts may be
// nil when the process does not run that role.
type Handler struct {
	router   EventRouter
	notifier JobNotifier
	releaser BlockReleaser
	logger   logrus.FieldLogger
}

func NewHandler(router EventRouter, notifier JobNotifier, releaser BlockReleaser, logger logrus.FieldLogger) *Handler {
	return &Handler{router: router, notifier: notifier, releaser: releaser, logger: logger}
}

// Topics lists the topics this handler consumes.
func (h *Handler) Topics() []string {
	var topics []string
	if h.router != nil {
		topics = append(topics, models.EventTopics...)
	} else if h.releaser != nil {
		topics = append(topics, models.TopicNewBlock)
	}
	if h.notifier != nil {
		topics = append(topics, models.TopicEvent)
	}
	return topics
}

// HandleMessage processes one message. Messages that cannot be decoded
// are logged and acknowledged; every other error leaves the message
// pending for redelivery.
func (h *Handler) HandleMessage(ctx context.Context, msg broker.Message) error {
	err := h.handleMessage(ctx, msg)
	if errors.Is(err, broker.ErrMalformedMessage) {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic": msg.Topic,
			"id":    msg.ID,
		}).Error("discarding malformed message")
		return nil
	}
	return err
}

func (h *Handler) handleMessage(ctx context.Context, msg broker.Message) error {
	switch msg.Topic {
	case models.TopicNewEpoch:
		epoch, err := decode[models.Epoch](msg)
		if err != nil {
			return err
		}
		return h.router.OnEpoch(ctx, epoch)

	case models.TopicNewBlock:
		block, err := decode[models.Block](msg)
		if err != nil {
			return err
		}
		if h.router != nil {
			if err := h.router.OnBlock(ctx, block); err != nil {
				return err
			}
		}
		if h.releaser != nil {
			if _, err := h.releaser.Release(ctx, block.Network, block.BlockNo); err != nil {
				return err
			}
		}
		return nil

	case models.TopicNewDelegation:
		d, err := decode[models.Delegation](msg)
		if err != nil {
			return err
		}
		return h.router.OnDelegation(ctx, d)

	case models.TopicNewTransaction:
		tx, err := decode[models.Transaction](msg)
		if err != nil {
			return err
		}
		return h.router.OnTransaction(ctx, tx)

	case models.TopicNewPayment:
		p, err := decode[models.Payment](msg)
		if err != nil {
			return err
		}
		return h.router.OnPayment(ctx, p)

	case models.TopicEvent:
		job, err := decode[models.DeliveryJob](msg)
		if err != nil {
			return err
		}
		outcome, err := h.notifier.Notify(ctx, job)
		if err != nil {
			return err
		}
		h.logger.WithFields(logrus.Fields{
			"webhook_id": job.WebhookID,
			"type":       job.Type,
			"outcome":    outcome.String(),
		}).Debug("handled delivery job")
		return nil
	}
	return fmt.Errorf("no handler for topic %q", msg.Topic)
}

func decode[T any](msg broker.Message) (T, error) {
	var v T
	err := msg.Decode(&v)
	return v, err
}
