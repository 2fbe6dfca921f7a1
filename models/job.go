package models

import "github.com/shopspring/decimal"

// DeliveryJob travels on wbh_event. Confirmations == 0 without
// OriginalConfirmations is a first-sight delivery; Confirmations == 0 with
// OriginalConfirmations > 0 is the finality replay of a deferred job.
type DeliveryJob struct {
	WebhookID             string `json:"webhookId"`
	AccountID             string `json:"accountId"`
	WebhookName           string `json:"webhookName"`
	AuthToken             string `json:"authToken"`
	CallbackURL           string `json:"callbackUrl"`
	Payload               []byte `json:"payload"`
	Type                  string `json:"type"`
	Network               string `json:"network"`
	Confirmations         int    `json:"confirmations"`
	OriginalConfirmations int    `json:"originalConfirmations,omitempty"`
	// BlockNo is the chain height the event was observed at, used to
	// schedule confirmation-pending jobs.
	BlockNo int64 `json:"blockNo,omitempty"`
}

// EventEnvelope is the body delivered to subscribers.
type EventEnvelope struct {
	ID             string `json:"id"`
	APIVersion     string `json:"api_version"`
	WebhookID      string `json:"webhook_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Object         string `json:"object"`
	CreateDate     int64  `json:"create_date"`
	Type           string `json:"type"`
	Data           any    `json:"data"`
	Network        string `json:"network,omitempty"`
}

// ControlEvent is published on wbh_warning, wbh_maxedout and wbh_unreachable.
type ControlEvent struct {
	EventKey string `json:"eventKey"`
	Network  string `json:"network"`
	Data     any    `json:"data"`
}

// AssetBalance is the per-fingerprint result of balancing a payment.
type AssetBalance struct {
	PolicyID       string                     `json:"policy_id"`
	AssetName      string                     `json:"asset_name"`
	AssetNameLabel *int                       `json:"asset_name_label,omitempty"`
	Fingerprint    string                     `json:"fingerprint"`
	Quantity       decimal.Decimal            `json:"quantity"`
	Owners         map[string]decimal.Decimal `json:"owners,omitempty"`
	NftMinted      decimal.Decimal            `json:"nft_minted"`
	FtMinted       decimal.Decimal            `json:"ft_minted"`
	Metadata       []Metadata                 `json:"metadata,omitempty"`
}

func (a AssetBalance) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "policy_id":
		v = a.PolicyID
	case "asset_name":
		v = a.AssetName
	case "asset_name_label":
		return optional(a.AssetNameLabel, path[1:])
	case "fingerprint":
		v = a.Fingerprint
	case "quantity":
		v = a.Quantity
	case "owners":
		if len(a.Owners) == 0 {
			return nil, false
		}
		v = a.Owners
	case "nft_minted":
		v = a.NftMinted
	case "ft_minted":
		v = a.FtMinted
	case "metadata":
		return index(a.Metadata, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

// PaymentData is delivered to address-keyed webhooks.
type PaymentData struct {
	Transaction Transaction `json:"transaction"`
	From        []Utxo      `json:"from"`
	To          []Utxo      `json:"to"`
}

// AssetData is delivered to ASSET webhooks; Assets holds only the entries
// that matched the webhook's rules.
type AssetData struct {
	Transaction Transaction    `json:"transaction"`
	Assets      []AssetBalance `json:"assets"`
}

// QuotaWarning, QuotaMaxedOut and WebhookUnreachable are control event bodies.
type QuotaWarning struct {
	AccountID string  `json:"accountId"`
	Quota     float64 `json:"quota"`
}

type QuotaMaxedOut struct {
	AccountID string `json:"accountId"`
}

type WebhookUnreachable struct {
	AccountID   string `json:"accountId"`
	WebhookID   string `json:"webhookId"`
	WebhookName string `json:"webhookName"`
	Requests    int64  `json:"requests"`
	Timeout     int64  `json:"timeout"`
}
