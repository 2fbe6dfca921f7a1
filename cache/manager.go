package cache

import (
	"webhook-notifier/models"

	"github.com/redis/go-redis/v9"
)

// Manager holds the typed caches shared by the process.
type Manager struct {
	// AssetMetadata: <network>:<fingerprint> -> historical metadata (TTL, use Fetch)
	AssetMetadata *Cache[[]models.Metadata]

	// Confirmations: <network> -> confirmation-pending jobs scored by target block_no
	Confirmations *SortedSet

	// Tips: <network> -> last block_no seen on new_block (no TTL)
	Tips *Cache[int64]
}

func NewManager(client redis.UniversalClient) *Manager {
	return &Manager{
		AssetMetadata: New(Options[[]models.Metadata]{
			Client: client,
			Prefix: "asset-metadata",
		}),
		Confirmations: NewSortedSet(client, "wbh-confirmation"),
		Tips: New(Options[int64]{
			Client: client,
			Prefix: "wbh-tip",
		}),
	}
}
