package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// SortedSet provides sorted set operations backed by Redis.
type SortedSet struct {
	client redis.UniversalClient
	prefix string
}

func NewSortedSet(client redis.UniversalClient, prefix string) *SortedSet {
	return &SortedSet{
		client: client,
		prefix: prefix,
	}
}

func (c *SortedSet) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + "-" + k
}

// Add adds a member with the given score. An existing member's score is updated.
func (c *SortedSet) Add(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, c.key(key), redis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

// RangeUpTo returns all members with score <= max, ordered by score
// ascending. Members stay in the set until removed.
func (c *SortedSet) RangeUpTo(ctx context.Context, key string, max float64) ([]string, error) {
	return c.client.ZRangeByScore(ctx, c.key(key), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

func (c *SortedSet) Remove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.client.ZRem(ctx, c.key(key), args...).Err()
}

func (c *SortedSet) Count(ctx context.Context, key string) (int64, error) {
	return c.client.ZCard(ctx, c.key(key)).Result()
}
