package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"webhook-notifier/models"
)

// eventNamespace scopes the name-based event keys.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("webhook-notifier/events"))

// EventKey derives a stable key for one observed event, so a redelivered
// broker message produces the same idempotency keys.
func EventKey(eventType, network string, naturalKey ...string) string {
	name := eventType + ":" + network + ":" + strings.Join(naturalKey, ":")
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// IdempotencyKey identifies one event for one webhook.
func IdempotencyKey(eventKey, webhookID string) string {
	return eventKey + "|" + webhookID
}

// JobKey is the wbh_event partition key.
func JobKey(accountID, network string) string {
	return accountID + "-" + network
}

// BuildJob wraps data in a signed-for-delivery envelope addressed to w.
func BuildJob(w models.Webhook, eventType, eventKey, apiVersion string, data any, blockNo int64, now time.Time) (models.DeliveryJob, error) {
	payload, err := models.EncodePayload(models.EventEnvelope{
		ID:             uuid.NewString(),
		APIVersion:     apiVersion,
		WebhookID:      w.WebhookID,
		IdempotencyKey: IdempotencyKey(eventKey, w.WebhookID),
		Object:         "event",
		CreateDate:     now.UnixMilli(),
		Type:           eventType,
		Data:           data,
	})
	if err != nil {
		return models.DeliveryJob{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return models.DeliveryJob{
		WebhookID:     w.WebhookID,
		AccountID:     w.AccountID,
		WebhookName:   w.Name,
		AuthToken:     w.AuthToken,
		CallbackURL:   w.CallbackURL,
		Payload:       payload,
		Type:          eventType,
		Network:       w.Network,
		Confirmations: max(w.Confirmations, 0),
		BlockNo:       blockNo,
	}, nil
}
