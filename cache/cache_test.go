package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"webhook-notifier/models"
)

func setupTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return NewManager(client), mr
}

func TestCache_FetchLoadsOnceThenHits(t *testing.T) {
	m, mr := setupTestManager(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]models.Metadata, error) {
		calls++
		return []models.Metadata{{Label: "721", JSON: map[string]any{"name": "x"}}}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := m.AssetMetadata.Fetch(ctx, "mainnet:asset1", time.Hour, load)
		if err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
		if len(got) != 1 || got[0].Label != "721" {
			t.Fatalf("unexpected metadata: %+v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected loader to run once, ran %d times", calls)
	}
	if !mr.Exists("asset-metadata:mainnet:asset1") {
		t.Error("expected prefixed key to be stored")
	}
}

func TestCache_FetchPropagatesLoadError(t *testing.T) {
	m, _ := setupTestManager(t)
	boom := errors.New("ledger down")

	_, err := m.AssetMetadata.Fetch(context.Background(), "k", time.Hour, func(context.Context) ([]models.Metadata, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected load error, got %v", err)
	}
	if _, err := m.AssetMetadata.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected nothing cached, got %v", err)
	}
}

func TestSortedSet_RangeUpTo(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	for score, member := range map[float64]string{101: "a", 103: "b", 110: "c"} {
		if err := m.Confirmations.Add(ctx, "mainnet", score, member); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Confirmations.RangeUpTo(ctx, "mainnet", 103)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}

	n, _ := m.Confirmations.Count(ctx, "mainnet")
	if n != 3 {
		t.Errorf("range must not remove members, got %d", n)
	}

	if err := m.Confirmations.Remove(ctx, "mainnet", "a"); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Confirmations.RangeUpTo(ctx, "mainnet", 103)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b] after removing a, got %v", got)
	}
}
