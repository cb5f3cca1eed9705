package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNegativeLookupCacheStore shares unknown-token entries between relay
// processes. Each namespace keeps a sorted-set index scored by expiry so
// invalidation can find live entries and drop the ones that already lapsed.
type RedisNegativeLookupCacheStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisNegativeLookupCacheStore(client redis.UniversalClient, prefix string) *RedisNegativeLookupCacheStore {
	if prefix == "" {
		prefix = "relay:unknown"
	}
	return &RedisNegativeLookupCacheStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisNegativeLookupCacheStore) Get(ctx context.Context, namespace, key string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.entryKey(namespace, key)).Result()
	return n > 0, err
}

func (s *RedisNegativeLookupCacheStore) Set(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	entry := s.entryKey(namespace, key)
	index := s.indexKey(namespace)
	now := s.now()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entry, now.Unix(), ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(now.Add(ttl).Unix()), Member: entry})
		pipe.ZRemRangeByScore(ctx, index, "-inf", "("+strconv.FormatInt(now.Unix(), 10))
		pipe.Expire(ctx, index, ttl+time.Minute)
		return nil
	})
	return err
}

func (s *RedisNegativeLookupCacheStore) Delete(ctx context.Context, namespace, key string) error {
	if s.client == nil {
		return nil
	}
	entry := s.entryKey(namespace, key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entry)
		pipe.ZRem(ctx, s.indexKey(namespace), entry)
		return nil
	})
	return err
}

func (s *RedisNegativeLookupCacheStore) InvalidateNamespace(ctx context.Context, namespace string) error {
	if s.client == nil {
		return nil
	}
	index := s.indexKey(namespace)
	entries, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: strconv.FormatInt(s.now().Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(entries) > 0 {
			pipe.Del(ctx, entries...)
		}
		pipe.Del(ctx, index)
		return nil
	})
	return err
}

func (s *RedisNegativeLookupCacheStore) entryKey(namespace, key string) string {
	return s.prefix + ":" + normalizeNamespace(namespace) + ":" + hashLookupKey(key)
}

func (s *RedisNegativeLookupCacheStore) indexKey(namespace string) string {
	return s.prefix + ":" + normalizeNamespace(namespace) + ":index"
}
