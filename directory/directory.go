package directory

import (
	"context"
	"errors"
	"fmt"

	"webhook-notifier/models"
)

const DefaultPageSize = 100

var ErrWebhookNotFound = errors.New("webhook not found")

// Page is one page of active webhooks. An empty NextPageState means the
// traversal is complete.
type Page struct {
	Items         []models.Webhook
	NextPageState []byte
}

// Directory is the read side of the webhook registry.
type Directory interface {
	// Webhooks returns one page of active webhooks keyed by key on network.
	Webhooks(ctx context.Context, key, network string, pageState []byte, pageSize int) (Page, error)
	// Webhook returns ErrWebhookNotFound when the webhook does not exist.
	Webhook(ctx context.Context, accountID, webhookID string) (models.Webhook, error)
}

// ForEach walks every active webhook for key and network, one page at a
// time. A page is fully processed by fn before the next one is requested.
func ForEach(ctx context.Context, dir Directory, key, network string, pageSize int, fn func(models.Webhook) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var state []byte
	for {
		page, err := dir.Webhooks(ctx, key, network, state, pageSize)
		if err != nil {
			return fmt.Errorf("list webhooks %s/%s: %w", key, network, err)
		}
		for _, w := range page.Items {
			if err := fn(w); err != nil {
				return err
			}
		}
		if len(page.NextPageState) == 0 {
			return nil
		}
		state = page.NextPageState
	}
}
