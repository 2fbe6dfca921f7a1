package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"webhook-notifier/cache"
	"webhook-notifier/models"
)

type fakeLedger struct {
	blocks        map[int64]models.Block
	pools         map[string]*models.Pool
	metadataCalls int
}

func (f *fakeLedger) Block(_ context.Context, n int64) (models.Block, error) {
	b, ok := f.blocks[n]
	if !ok {
		return models.Block{}, ErrBlockNotFound
	}
	return b, nil
}

func (f *fakeLedger) Pool(_ context.Context, leader string) (*models.Pool, error) {
	return f.pools[leader], nil
}

func (f *fakeLedger) TransactionUtxos(context.Context, string) (models.TransactionUtxos, error) {
	return models.TransactionUtxos{}, nil
}

func (f *fakeLedger) AssetMetadata(context.Context, string) ([]models.Metadata, error) {
	f.metadataCalls++
	return []models.Metadata{{Label: "721"}}, nil
}

func TestBlockWithPool(t *testing.T) {
	l := &fakeLedger{
		blocks: map[int64]models.Block{7: {BlockNo: 7, SlotLeader: "pool1abc"}},
		pools:  map[string]*models.Pool{"pool1abc": {Ticker: "ABC"}},
	}

	b, err := BlockWithPool(context.Background(), l, 7)
	if err != nil {
		t.Fatal(err)
	}
	if b.Pool == nil || b.Pool.Ticker != "ABC" {
		t.Errorf("expected pool ABC attached, got %+v", b.Pool)
	}

	if _, err := BlockWithPool(context.Background(), l, 8); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestNetworks_For(t *testing.T) {
	n := Networks{"mainnet": &fakeLedger{}}
	if _, err := n.For("mainnet"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.For("preview"); !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestCached_AssetMetadata(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := &fakeLedger{}
	c := NewCached(l, "mainnet", cache.NewManager(client).AssetMetadata, time.Hour)

	for i := 0; i < 2; i++ {
		md, err := c.AssetMetadata(context.Background(), "asset1")
		if err != nil || len(md) != 1 {
			t.Fatalf("unexpected result %v, %v", md, err)
		}
	}
	if l.metadataCalls != 1 {
		t.Errorf("expected one ledger call, got %d", l.metadataCalls)
	}
	if !mr.Exists("asset-metadata:mainnet:asset1") {
		t.Error("expected network-scoped cache key")
	}
}
