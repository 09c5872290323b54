package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCIDsKey        = "nabu:catalog:cids"
	defaultCounterKeyRoot = "nabu:counter:"
)

// RedisStore is the production CatalogStore, backed by a Redis list of CID
// documents (RPUSH to append, LRANGE to stream, DEL to batch-clear) and
// Redis counters (INCRBY, which auto-creates at 0).
type RedisStore struct {
	client      *redis.Client
	cidsKey     string
	counterRoot string
}

// NewRedisStore wraps an already-connected *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, cidsKey: defaultCIDsKey, counterRoot: defaultCounterKeyRoot}
}

func (s *RedisStore) StreamCIDs(ctx context.Context) ([]CIDRecord, error) {
	raws, err := s.client.LRange(ctx, s.cidsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("catalog: stream cids: %w", err)
	}

	records := make([]CIDRecord, 0, len(raws))
	for _, raw := range raws {
		var rec CIDRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("catalog: decode cid document: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) AppendCID(ctx context.Context, cid string) error {
	doc, err := json.Marshal(CIDRecord{CID: cid})
	if err != nil {
		return fmt.Errorf("catalog: encode cid document: %w", err)
	}
	if err := s.client.RPush(ctx, s.cidsKey, doc).Err(); err != nil {
		return fmt.Errorf("catalog: append cid: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	total, err := s.client.IncrBy(ctx, s.counterRoot+name, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("catalog: increment counter %s: %w", name, err)
	}
	return total, nil
}

func (s *RedisStore) ClearCIDs(ctx context.Context) error {
	if err := s.client.Del(ctx, s.cidsKey).Err(); err != nil {
		return fmt.Errorf("catalog: clear cids: %w", err)
	}
	return nil
}
