package quota

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	FieldTier        = "tier"
	FieldRequests    = "webhooks_requests"
	FieldCounter     = "webhooks_counter"
	FieldFailedLimit = "webhooks_requests_failed_limit"

	failedFieldPrefix = "webhooks_requests_failed-"
	keyPrefix         = "account-quota-"

	TierFree       = "free"
	TierEnterprise = "enterprise"
)

var ErrStoreOperation = errors.New("quota store operation failed")

// Usage is the post-mutation snapshot of an account's quota hash.
type Usage struct {
	Tier string
	// Requests is nil when the account has no budget.
	Requests *int64
	Counter  int64
	// FailedLimit is 0 when the account does not override the default.
	FailedLimit int64
	// Failed is the webhook's consecutive failure counter.
	Failed int64
}

// Limited reports whether usage thresholds apply to the account.
func (u Usage) Limited() bool {
	return u.Tier != TierEnterprise && u.Requests != nil
}

// Store keeps per-account usage counters in a Redis hash.
type Store struct {
	client redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func Key(accountID string) string {
	return keyPrefix + accountID
}

func FailedField(webhookID string) string {
	return failedFieldPrefix + webhookID
}

// Record adds incr to the usage counter and, when fails > 0, to the
// webhook's failure counter; fails == 0 clears the failure counter. The
// mutation and the read run in one MULTI so the snapshot reflects exactly
// this update.
func (s *Store) Record(ctx context.Context, accountID, webhookID string, incr, fails int64) (Usage, error) {
	key := Key(accountID)
	failed := FailedField(webhookID)

	var values *redis.SliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, FieldCounter, incr)
		if fails > 0 {
			pipe.HIncrBy(ctx, key, failed, fails)
		} else {
			pipe.HDel(ctx, key, failed)
		}
		values = pipe.HMGet(ctx, key, FieldTier, FieldRequests, FieldCounter, FieldFailedLimit, failed)
		return nil
	})
	if err != nil {
		return Usage{}, errors.Join(ErrStoreOperation, err)
	}
	return parseUsage(values.Val()), nil
}

func parseUsage(v []any) Usage {
	u := Usage{
		Tier:        str(v[0]),
		Counter:     integer(v[2]),
		FailedLimit: integer(v[3]),
		Failed:      integer(v[4]),
	}
	if n, err := strconv.ParseInt(str(v[1]), 10, 64); err == nil {
		u.Requests = &n
	}
	return u
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int64 {
	n, _ := strconv.ParseInt(str(v), 10, 64)
	return n
}

// Account returns the raw quota hash.
func (s *Store) Account(ctx context.Context, accountID string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, Key(accountID)).Result()
	if err != nil {
		return nil, errors.Join(ErrStoreOperation, err)
	}
	return fields, nil
}

// ResetWebhookFails clears one webhook's failure counter. Usage is kept.
func (s *Store) ResetWebhookFails(ctx context.Context, accountID, webhookID string) error {
	if err := s.client.HDel(ctx, Key(accountID), FailedField(webhookID)).Err(); err != nil {
		return errors.Join(ErrStoreOperation, err)
	}
	return nil
}

// ResetAccount overwrites the given fields and clears every webhook
// failure counter of the account.
func (s *Store) ResetAccount(ctx context.Context, accountID string, fields map[string]any) error {
	key := Key(accountID)
	names, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return errors.Join(ErrStoreOperation, err)
	}

	var failed []string
	for _, n := range names {
		if strings.HasPrefix(n, failedFieldPrefix) {
			failed = append(failed, n)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		if len(failed) > 0 {
			pipe.HDel(ctx, key, failed...)
		}
		return nil
	})
	if err != nil {
		return errors.Join(ErrStoreOperation, err)
	}
	return nil
}
