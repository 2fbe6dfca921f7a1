package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-notifier/cache"
	"webhook-notifier/models"
)

var (
	ErrBlockNotFound  = errors.New("block not found")
	ErrUnknownNetwork = errors.New("no ledger configured for network")
)

// Ledger is the read-only view of canonical chain data.
type Ledger interface {
	Block(ctx context.Context, blockNo int64) (models.Block, error)
	// Pool returns nil when the slot leader is not a registered pool.
	Pool(ctx context.Context, slotLeader string) (*models.Pool, error)
	TransactionUtxos(ctx context.Context, txHash string) (models.TransactionUtxos, error)
	AssetMetadata(ctx context.Context, fingerprint string) ([]models.Metadata, error)
}

// Networks selects a ledger by network name.
type Networks map[string]Ledger

func (n Networks) For(network string) (Ledger, error) {
	l, ok := n[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return l, nil
}

// BlockWithPool loads a block and attaches its producing pool.
func BlockWithPool(ctx context.Context, l Ledger, blockNo int64) (models.Block, error) {
	block, err := l.Block(ctx, blockNo)
	if err != nil {
		return models.Block{}, fmt.Errorf("get block %d: %w", blockNo, err)
	}
	pool, err := l.Pool(ctx, block.SlotLeader)
	if err != nil {
		return models.Block{}, fmt.Errorf("get pool %s: %w", block.SlotLeader, err)
	}
	block.Pool = pool
	return block, nil
}

// Cached serves AssetMetadata through a redis read-through cache. Minting
// metadata is append-only so a TTL bounds staleness.
type Cached struct {
	Ledger
	network string
	cache   *cache.Cache[[]models.Metadata]
	ttl     time.Duration
}

func NewCached(l Ledger, network string, c *cache.Cache[[]models.Metadata], ttl time.Duration) *Cached {
	return &Cached{Ledger: l, network: network, cache: c, ttl: ttl}
}

func (c *Cached) AssetMetadata(ctx context.Context, fingerprint string) ([]models.Metadata, error) {
	return c.cache.Fetch(ctx, c.network+":"+fingerprint, c.ttl, func(ctx context.Context) ([]models.Metadata, error) {
		return c.Ledger.AssetMetadata(ctx, fingerprint)
	})
}
