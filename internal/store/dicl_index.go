package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relaygate/relaygate/internal/variant"
)

// RedisExampleIndex backs a DICL variant's ExampleSource with a redis-cached
// pool of historical examples. Grounded on taipm-go-deep-agent's RedisCache
// (redis.UniversalClient, namespaced keys, JSON payloads), applied to DICL's
// {embedding, input, output} example shape instead of a generic cache entry
// — the teacher has no retrieval layer to ground this on.
type RedisExampleIndex struct {
	client redis.UniversalClient
	key    string
}

// NewRedisExampleIndex returns an index reading/writing one namespaced key
// per function+variant example pool.
func NewRedisExampleIndex(client redis.UniversalClient, namespace, poolName string) *RedisExampleIndex {
	return &RedisExampleIndex{client: client, key: fmt.Sprintf("%s:dicl:%s", namespace, poolName)}
}

// Add appends one example to the pool.
func (idx *RedisExampleIndex) Add(ctx context.Context, ex variant.Example) error {
	raw, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal dicl example: %w", err)
	}
	return idx.client.RPush(ctx, idx.key, raw).Err()
}

// Source satisfies variant.DICL's ExampleSource function signature.
func (idx *RedisExampleIndex) Source(ctx context.Context) ([]variant.Example, error) {
	raws, err := idx.client.LRange(ctx, idx.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load dicl example pool: %w", err)
	}
	out := make([]variant.Example, 0, len(raws))
	for _, raw := range raws {
		var ex variant.Example
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			return nil, fmt.Errorf("unmarshal dicl example: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}
