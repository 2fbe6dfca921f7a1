package quota

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"webhook-notifier/metrics"
	"webhook-notifier/models"
)

// Publisher sends a message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

type Thresholds struct {
	// Warning is the fraction of the budget that triggers wbh_warning.
	Warning float64
	// FailedLimit applies when the account has no override.
	FailedLimit int64
	// Timeout is reported in wbh_unreachable.
	Timeout time.Duration
}

// Attempt identifies one delivery attempt.
type Attempt struct {
	AccountID   string
	WebhookID   string
	WebhookName string
	Network     string
	Weight      int64
	Failed      bool
}

// Crossed reports an upward crossing of threshold between two counter
// values. Each crossing is seen by exactly one increment, whatever its size.
func Crossed(before, after, threshold int64) bool {
	return before < threshold && threshold <= after
}

// Monitor applies usage to the store and publishes control events on
// threshold crossings.
type Monitor struct {
	store     *Store
	publisher Publisher
	limits    Thresholds
	logger    logrus.FieldLogger
}

func NewMonitor(store *Store, publisher Publisher, limits Thresholds, logger logrus.FieldLogger) *Monitor {
	return &Monitor{store: store, publisher: publisher, limits: limits, logger: logger}
}

// Check records the attempt and returns the snapshot, with FailedLimit set
// to the effective limit. Store errors are returned unchanged.
func (m *Monitor) Check(ctx context.Context, a Attempt) (Usage, error) {
	var fails int64
	if a.Failed {
		fails = a.Weight
	}
	usage, err := m.store.Record(ctx, a.AccountID, a.WebhookID, a.Weight, fails)
	if err != nil {
		return Usage{}, err
	}
	if usage.FailedLimit <= 0 {
		usage.FailedLimit = m.limits.FailedLimit
	}

	before := usage.Counter - a.Weight
	if usage.Limited() {
		warning := int64(math.Floor(float64(*usage.Requests) * m.limits.Warning))
		if Crossed(before, usage.Counter, warning) {
			m.emit(ctx, models.TopicWarning, a, models.QuotaWarning{
				AccountID: a.AccountID,
				Quota:     m.limits.Warning * 100,
			})
		}
		if usage.Tier == TierFree && Crossed(before, usage.Counter, *usage.Requests) {
			m.emit(ctx, models.TopicMaxedOut, a, models.QuotaMaxedOut{AccountID: a.AccountID})
		}
	}

	if a.Failed && Crossed(usage.Failed-a.Weight, usage.Failed, usage.FailedLimit) {
		m.emit(ctx, models.TopicUnreachable, a, models.WebhookUnreachable{
			AccountID:   a.AccountID,
			WebhookID:   a.WebhookID,
			WebhookName: a.WebhookName,
			Requests:    usage.FailedLimit,
			Timeout:     m.limits.Timeout.Milliseconds(),
		})
	}
	return usage, nil
}

// emit publishes a control event. A failed publish is only logged: the
// crossing is already committed and will not be observed again.
func (m *Monitor) emit(ctx context.Context, topic string, a Attempt, data any) {
	event := models.ControlEvent{
		EventKey: uuid.NewString(),
		Network:  a.Network,
		Data:     data,
	}
	if err := m.publisher.Publish(ctx, topic, a.AccountID, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"account_id": a.AccountID,
			"webhook_id": a.WebhookID,
		}).Error("failed to publish control event")
		return
	}
	metrics.ControlEventsTotal.WithLabelValues(topic).Inc()
	m.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"account_id": a.AccountID,
		"event_key":  event.EventKey,
	}).Info("published control event")
}
