package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"webhook-notifier/directory"
	"webhook-notifier/ledger"
	"webhook-notifier/metrics"
	"webhook-notifier/models"
	"webhook-notifier/quota"
	"webhook-notifier/rules"
)

const DefaultConfirmationFactor = 10

// Deferrer parks jobs that still require confirmations.
type Deferrer interface {
	Park(ctx context.Context, job models.DeliveryJob) error
}

// Meter records a delivery attempt against the account's quota.
type Meter interface {
	Check(ctx context.Context, a quota.Attempt) (quota.Usage, error)
}

// RedeliveryPolicy decides what happens to a failed delivery whose
// webhook has not reached its failure limit.
type RedeliveryPolicy interface {
	Redeliver(ctx context.Context, job models.DeliveryJob, usage quota.Usage, cause error) error
}

// NoRedelivery leaves failed deliveries alone.
type NoRedelivery struct{}

func (NoRedelivery) Redeliver(context.Context, models.DeliveryJob, quota.Usage, error) error {
	return nil
}

type Options struct {
	// ConfirmationFactor weighs a finality replay in the usage counter.
	ConfirmationFactor int
	// Deferrer is optional; without it pending jobs are left to an
	// external scheduler.
	Deferrer   Deferrer
	Redelivery RedeliveryPolicy
}

// Notifier consumes delivery jobs: it gates them on confirmations,
// refreshes finalized data from the ledger and dispatches them.
type Notifier struct {
	dir        directory.Directory
	ledgers    ledger.Networks
	dispatcher *Dispatcher
	meter      Meter
	opts       Options
	logger     logrus.FieldLogger
}

func New(dir directory.Directory, ledgers ledger.Networks, dispatcher *Dispatcher, meter Meter, opts Options, logger logrus.FieldLogger) *Notifier {
	if opts.ConfirmationFactor <= 0 {
		opts.ConfirmationFactor = DefaultConfirmationFactor
	}
	if opts.Redelivery == nil {
		opts.Redelivery = NoRedelivery{}
	}
	return &Notifier{
		dir:        dir,
		ledgers:    ledgers,
		dispatcher: dispatcher,
		meter:      meter,
		opts:       opts,
		logger:     logger,
	}
}

// Weight is how much one delivery of job counts against the quota.
func (n *Notifier) Weight(job models.DeliveryJob) int64 {
	if job.OriginalConfirmations > 0 {
		return int64(job.OriginalConfirmations) * int64(n.opts.ConfirmationFactor)
	}
	return 1
}

// Notify handles one delivery job. Failed deliveries are counted, not
// returned; errors are reserved for directory, ledger and quota store
// failures, which should cause the job to be redelivered.
func (n *Notifier) Notify(ctx context.Context, job models.DeliveryJob) (Outcome, error) {
	outcome, err := n.notify(ctx, job)
	if err == nil {
		metrics.DeliveriesTotal.WithLabelValues(job.Type, outcome.String()).Inc()
	}
	return outcome, err
}

func (n *Notifier) notify(ctx context.Context, job models.DeliveryJob) (Outcome, error) {
	log := n.logger.WithFields(logrus.Fields{
		"webhook_id": job.WebhookID,
		"account_id": job.AccountID,
		"type":       job.Type,
		"network":    job.Network,
	})

	w, err := n.dir.Webhook(ctx, job.AccountID, job.WebhookID)
	if errors.Is(err, directory.ErrWebhookNotFound) {
		return Dropped, nil
	}
	if err != nil {
		return Dropped, fmt.Errorf("get webhook %s: %w", job.WebhookID, err)
	}
	if !w.Active {
		return Dropped, nil
	}

	phase := PhaseOf(job)
	if phase == PendingConfirmation {
		if n.opts.Deferrer == nil {
			return Pending, nil
		}
		if err := n.opts.Deferrer.Park(ctx, job); err != nil {
			return Pending, err
		}
		return Pending, nil
	}

	env, err := models.DecodePayload(job.Payload)
	if err != nil {
		log.WithError(err).Error("dropping job with unreadable payload")
		return Dropped, nil
	}

	data, ok, err := n.prepare(ctx, job, w, env.Data, phase == Finalizing)
	switch {
	case errors.Is(err, rules.ErrUnknownOperator), errors.Is(err, ledger.ErrUnknownNetwork):
		log.WithError(err).Error("dropping job")
		return Dropped, nil
	case err != nil:
		return Dropped, err
	case !ok:
		log.Info("finalized block no longer matches, delivery suppressed")
		return Suppressed, nil
	}
	env.Data = data
	env.Network = job.Network

	body, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("dropping job that cannot be serialized")
		return Dropped, nil
	}

	weight := n.Weight(job)
	deliveryErr := n.dispatcher.Deliver(ctx, job.Type, job.CallbackURL, job.AuthToken, body)

	usage, err := n.meter.Check(ctx, quota.Attempt{
		AccountID:   job.AccountID,
		WebhookID:   job.WebhookID,
		WebhookName: job.WebhookName,
		Network:     job.Network,
		Weight:      weight,
		Failed:      deliveryErr != nil,
	})
	if err != nil {
		return Failed, err
	}

	if deliveryErr == nil {
		log.WithField("weight", weight).Debug("delivered")
		return Delivered, nil
	}

	log.WithError(deliveryErr).WithFields(logrus.Fields{
		"failed":       usage.Failed,
		"failed_limit": usage.FailedLimit,
	}).Warn("delivery failed")
	if usage.Failed < usage.FailedLimit {
		if err := n.opts.Redelivery.Redeliver(ctx, job, usage, deliveryErr); err != nil {
			return Failed, err
		}
	}
	return Failed, nil
}

// prepare completes the event data for delivery. Payments always get
// their canonical inputs and outputs. Finalizing jobs get the block as
// it is now on chain; a block event that no longer matches the webhook
// rules reports false.
func (n *Notifier) prepare(ctx context.Context, job models.DeliveryJob, w models.Webhook, data any, finalizing bool) (any, bool, error) {
	switch d := data.(type) {
	case models.PaymentData:
		l, err := n.ledgers.For(job.Network)
		if err != nil {
			return nil, false, err
		}
		utxos, err := l.TransactionUtxos(ctx, d.Transaction.Hash)
		if err != nil {
			return nil, false, fmt.Errorf("get utxos of %s: %w", d.Transaction.Hash, err)
		}
		if finalizing {
			if d.Transaction.Block, err = n.refresh(ctx, job.Network, d.Transaction.Block); err != nil {
				return nil, false, err
			}
		}
		d.From, d.To = utxos.Inputs, utxos.Outputs
		return d, true, nil

	case models.Block:
		if !finalizing {
			return d, true, nil
		}
		block, err := n.refresh(ctx, job.Network, &d)
		if err != nil {
			return nil, false, err
		}
		if block.Network == "" {
			block.Network = d.Network
		}
		ok, err := rules.Match(w.Rules, *block)
		if err != nil || !ok {
			return nil, false, err
		}
		return *block, true, nil

	case models.Transaction:
		if !finalizing {
			return d, true, nil
		}
		block, err := n.refresh(ctx, job.Network, d.Block)
		if err != nil {
			return nil, false, err
		}
		d.Block = block
		return d, true, nil

	case models.AssetData:
		if !finalizing {
			return d, true, nil
		}
		block, err := n.refresh(ctx, job.Network, d.Transaction.Block)
		if err != nil {
			return nil, false, err
		}
		d.Transaction.Block = block
		return d, true, nil
	}
	return data, true, nil
}

// refresh returns the canonical version of block with its pool. A nil
// block stays nil.
func (n *Notifier) refresh(ctx context.Context, network string, block *models.Block) (*models.Block, error) {
	if block == nil {
		return nil, nil
	}
	l, err := n.ledgers.For(network)
	if err != nil {
		return nil, err
	}
	fresh, err := ledger.BlockWithPool(ctx, l, block.BlockNo)
	if err != nil {
		return nil, err
	}
	return &fresh, nil
}
