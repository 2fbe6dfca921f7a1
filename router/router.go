package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
	"webhook-notifier/assets"
	"webhook-notifier/directory"
	"webhook-notifier/ledger"
	"webhook-notifier/metrics"
	"webhook-notifier/models"
	"webhook-notifier/rules"
)

// Publisher sends a message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

type Options struct {
	PageSize   int
	APIVersion string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Router matches blockchain events against the webhook directory and
// emits one delivery job per matching webhook.
type Router struct {
	dir       directory.Directory
	publisher Publisher
	ledgers   ledger.Networks
	logger    logrus.FieldLogger
	opts      Options
}

// New builds a router. ledgers provide the minting history used to
// classify assets.
func New(dir directory.Directory, publisher Publisher, ledgers ledger.Networks, opts Options, logger logrus.FieldLogger) *Router {
	if opts.PageSize <= 0 {
		opts.PageSize = directory.DefaultPageSize
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v1"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		dir:       dir,
		publisher: publisher,
		ledgers:   ledgers,
		logger:    logger,
		opts:      opts,
	}
}

// matcher decides whether a webhook wants the event.
type matcher func(w models.Webhook) (bool, error)

// route walks every webhook under key and emits a job for each match.
// data may depend on the webhook.
func (r *Router) route(ctx context.Context, key, network, eventType, eventKey string, blockNo int64, match matcher, data func(models.Webhook) any) error {
	var emitted int
	err := directory.ForEach(ctx, r.dir, key, network, r.opts.PageSize, func(w models.Webhook) error {
		ok, err := match(w)
		if err != nil {
			if errors.Is(err, rules.ErrUnknownOperator) {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"webhook_id": w.WebhookID,
					"account_id": w.AccountID,
				}).Error("skipping webhook with invalid rules")
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
		if err := r.emit(ctx, w, eventType, eventKey, data(w), blockNo); err != nil {
			return err
		}
		emitted++
		return nil
	})
	if err != nil {
		return err
	}

	if emitted > 0 {
		r.logger.WithFields(logrus.Fields{
			"type":      eventType,
			"network":   network,
			"key":       key,
			"event_key": eventKey,
			"jobs":      emitted,
		}).Debug("routed event")
	}
	return nil
}

func (r *Router) emit(ctx context.Context, w models.Webhook, eventType, eventKey string, data any, blockNo int64) error {
	job, err := BuildJob(w, eventType, eventKey, r.opts.APIVersion, data, blockNo, r.opts.Now())
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, models.TopicEvent, JobKey(w.AccountID, w.Network), job); err != nil {
		return fmt.Errorf("publish %s job for webhook %s: %w", eventType, w.WebhookID, err)
	}
	metrics.JobsEmittedTotal.WithLabelValues(eventType).Inc()
	return nil
}

func matchAll(rec any) matcher {
	return func(w models.Webhook) (bool, error) {
		return rules.Match(w.Rules, rec)
	}
}

func same[T any](v T) func(models.Webhook) any {
	return func(models.Webhook) any { return v }
}

func (r *Router) OnEpoch(ctx context.Context, epoch models.Epoch) error {
	key := EventKey(models.TypeEpoch, epoch.Network, strconv.FormatInt(epoch.No, 10))
	return r.route(ctx, models.KeyEpoch, epoch.Network, models.TypeEpoch, key, 0, matchAll(epoch), same(epoch))
}

// OnBlock matches the full rule set only for webhooks that need no
// confirmations. Others are matched on block_no alone and get the full
// check once the block is final.
func (r *Router) OnBlock(ctx context.Context, block models.Block) error {
	key := EventKey(models.TypeBlock, block.Network, block.Hash)
	match := func(w models.Webhook) (bool, error) {
		rs := w.Rules
		if w.Confirmations > 0 {
			rs = w.BlockRules()
		}
		return rules.Match(rs, block)
	}
	return r.route(ctx, models.KeyBlock, block.Network, models.TypeBlock, key, block.BlockNo, match, same(block))
}

func (r *Router) OnDelegation(ctx context.Context, d models.Delegation) error {
	key := EventKey(models.TypeDelegation, d.Network, d.TxHash, d.StakeAddress)
	return r.route(ctx, models.KeyDelegation, d.Network, models.TypeDelegation, key, d.BlockNo, matchAll(d), same(d))
}

func (r *Router) OnTransaction(ctx context.Context, tx models.Transaction) error {
	key := EventKey(models.TypeTransaction, tx.Network, tx.Hash)
	return r.route(ctx, models.KeyTransaction, tx.Network, models.TypeTransaction, key, blockNo(tx), matchAll(tx), same(tx))
}

// OnPayment routes the payment to the webhooks of every address it
// touches, then runs the asset stage once.
func (r *Router) OnPayment(ctx context.Context, p models.Payment) error {
	network := p.Network
	if network == "" {
		network = p.Transaction.Network
	}

	addresses := mapset.NewThreadUnsafeSet[string]()
	outputs := make(map[string][]models.Utxo)
	for _, u := range p.Inputs {
		addresses.Add(u.Address)
	}
	for _, u := range p.Outputs {
		addresses.Add(u.Address)
		outputs[u.Address] = append(outputs[u.Address], u)
	}
	sorted := addresses.ToSlice()
	sort.Strings(sorted)

	data := same(models.PaymentData{Transaction: p.Transaction, From: p.Inputs, To: p.Outputs})
	for _, addr := range sorted {
		if addr == "" {
			continue
		}
		owned := outputs[addr]
		aggregated := assets.Aggregate(assets.Flatten(owned))
		match := func(w models.Webhook) (bool, error) {
			if len(w.Rules) == 0 {
				return true, nil
			}
			if ok, err := matchAny(w.Rules, owned); ok || err != nil {
				return ok, err
			}
			return matchAny(w.Rules, aggregated)
		}

		key := EventKey(models.TypePayment, network, p.Transaction.Hash, addr)
		if err := r.route(ctx, addr, network, models.TypePayment, key, blockNo(p.Transaction), match, data); err != nil {
			return err
		}
	}

	return r.routeAssets(ctx, network, p)
}

// routeAssets delivers each ASSET webhook the subset of minted or burnt
// assets that matches its rules. It is skipped for networks without a
// ledger.
func (r *Router) routeAssets(ctx context.Context, network string, p models.Payment) error {
	if len(p.Transaction.Mint) == 0 {
		return nil
	}
	// without minting history every asset would be classified as fungible
	l, err := r.ledgers.For(network)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"network": network,
			"tx_hash": p.Transaction.Hash,
		}).Error("skipping asset stage")
		return nil
	}
	classifier := assets.Classifier{Source: l}
	classified, err := classifier.Classify(ctx, p.Transaction, p.Outputs)
	if err != nil {
		return fmt.Errorf("classify assets of %s: %w", p.Transaction.Hash, err)
	}
	if len(classified) == 0 {
		return nil
	}

	matched := make(map[string][]models.AssetBalance)
	match := func(w models.Webhook) (bool, error) {
		subset, err := rules.Filter(w.Rules, classified)
		if err != nil {
			return false, err
		}
		matched[w.WebhookID] = subset
		return len(subset) > 0, nil
	}
	data := func(w models.Webhook) any {
		return models.AssetData{Transaction: p.Transaction, Assets: matched[w.WebhookID]}
	}

	key := EventKey(models.TypeAsset, network, p.Transaction.Hash)
	return r.route(ctx, models.KeyAsset, network, models.TypeAsset, key, blockNo(p.Transaction), match, data)
}

func matchAny[T any](rs []models.Rule, items []T) (bool, error) {
	for _, item := range items {
		ok, err := rules.Match(rs, item)
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

func blockNo(tx models.Transaction) int64 {
	if tx.Block == nil {
		return 0
	}
	return tx.Block.BlockNo
}
