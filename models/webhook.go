package models

import "time"

// Directory partition keys. Payment webhooks are keyed by chain address instead.
const (
	KeyEpoch       = "EPOCH"
	KeyBlock       = "BLOCK"
	KeyDelegation  = "DELEGATION"
	KeyPayment     = "PAYMENT"
	KeyAsset       = "ASSET"
	KeyTransaction = "TRANSACTION"
)

// Rule is a single field/operator/value predicate.
// Field is a dotted path into the event record.
type Rule struct {
	Field    string `json:"field" cql:"field"`
	Operator string `json:"operator" cql:"operator"`
	Value    string `json:"value" cql:"value"`
}

// Webhook is a subscriber's registered callback. Read-only here.
type Webhook struct {
	AccountID     string    `json:"user_id"`
	WebhookID     string    `json:"webhook_id"`
	EventKey      string    `json:"webhook_key"`
	Name          string    `json:"name"`
	Network       string    `json:"network"`
	Description   string    `json:"description,omitempty"`
	CallbackURL   string    `json:"callback_url"`
	AuthToken     string    `json:"auth_token"`
	Rules         []Rule    `json:"rules"`
	Confirmations int       `json:"confirmations"`
	Active        bool      `json:"active"`
	CreateDate    time.Time `json:"create_date,omitempty"`
	UpdateDate    time.Time `json:"update_date,omitempty"`
}

// BlockRules returns only the rules evaluated on the first sighting of a
// block when confirmations are required.
func (w Webhook) BlockRules() []Rule {
	out := make([]Rule, 0, len(w.Rules))
	for _, r := range w.Rules {
		if r.Field == "block_no" {
			out = append(out, r)
		}
	}
	return out
}
