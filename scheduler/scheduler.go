package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"webhook-notifier/cache"
	"webhook-notifier/metrics"
	"webhook-notifier/models"
)

// Publisher sends a message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Queue holds jobs that wait for confirmations, per network, until the
// chain reaches their target block.
type Queue struct {
	pending *cache.SortedSet
	tips    *cache.Cache[int64]
}

func NewQueue(m *cache.Manager) *Queue {
	return &Queue{pending: m.Confirmations, tips: m.Tips}
}

// Target is the block at which the job becomes final. Jobs observed
// without a block count from the last known tip.
func (q *Queue) Target(ctx context.Context, job models.DeliveryJob) (int64, error) {
	from := job.BlockNo
	if from == 0 {
		tip, err := q.tips.Get(ctx, job.Network)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return 0, fmt.Errorf("read %s tip: %w", job.Network, err)
		}
		from = tip
	}
	return from + int64(job.Confirmations), nil
}

// Park stores a job that requires confirmations.
func (q *Queue) Park(ctx context.Context, job models.DeliveryJob) error {
	target, err := q.Target(ctx, job)
	if err != nil {
		return err
	}
	member, err := cache.Marshal(job)
	if err != nil {
		return errors.Join(cache.ErrEncodeFailed, err)
	}
	if err := q.pending.Add(ctx, job.Network, float64(target), string(member)); err != nil {
		return fmt.Errorf("park job for webhook %s: %w", job.WebhookID, err)
	}
	return nil
}

// Pending returns the number of parked jobs on network.
func (q *Queue) Pending(ctx context.Context, network string) (int64, error) {
	return q.pending.Count(ctx, network)
}

// Releaser re-presents parked jobs for finality once their target block
// is reached.
type Releaser struct {
	queue     *Queue
	publisher Publisher
	logger    logrus.FieldLogger
}

func NewReleaser(queue *Queue, publisher Publisher, logger logrus.FieldLogger) *Releaser {
	return &Releaser{queue: queue, publisher: publisher, logger: logger}
}

// Release records blockNo as the network tip and republishes every job
// due at or below it with Confirmations 0 and OriginalConfirmations set.
// A job leaves the queue only after it was published, so an interrupted
// release is completed by the next one.
func (r *Releaser) Release(ctx context.Context, network string, blockNo int64) (int, error) {
	if err := r.queue.tips.Set(ctx, network, blockNo, 0); err != nil {
		return 0, fmt.Errorf("store %s tip: %w", network, err)
	}

	members, err := r.queue.pending.RangeUpTo(ctx, network, float64(blockNo))
	if err != nil {
		return 0, fmt.Errorf("read due jobs on %s: %w", network, err)
	}

	released := 0
	for _, member := range members {
		var job models.DeliveryJob
		if err := cache.Unmarshal([]byte(member), &job); err != nil {
			r.logger.WithError(err).WithField("network", network).Error("dropping malformed parked job")
			if err := r.queue.pending.Remove(ctx, network, member); err != nil {
				return released, fmt.Errorf("drop malformed job on %s: %w", network, err)
			}
			continue
		}

		job.OriginalConfirmations = job.Confirmations
		job.Confirmations = 0
		if err := r.publisher.Publish(ctx, models.TopicEvent, job.AccountID+"-"+job.Network, job); err != nil {
			return released, fmt.Errorf("republish job for webhook %s: %w", job.WebhookID, err)
		}
		if err := r.queue.pending.Remove(ctx, network, member); err != nil {
			return released, fmt.Errorf("unpark job for webhook %s: %w", job.WebhookID, err)
		}
		released++
		metrics.ConfirmationsReleasedTotal.Inc()
	}

	if released > 0 {
		r.logger.WithFields(logrus.Fields{
			"network":  network,
			"block_no": blockNo,
			"released": released,
		}).Info("released confirmed jobs")
	}
	return released, nil
}
