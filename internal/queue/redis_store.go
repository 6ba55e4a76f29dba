package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"offsync-go/internal/apierr"
)

// RedisStore persists the queue in redis: a counter for seq assignment,
// one JSON value per entry and two sorted sets (scored by seq) indexing
// live and dead entries.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore with the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "offsync:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) seqKey() string            { return r.prefix + "queue:seq" }
func (r *RedisStore) entryKey(seq int64) string { return fmt.Sprintf("%squeue:entry:%d", r.prefix, seq) }
func (r *RedisStore) liveKey() string           { return r.prefix + "queue:live" }
func (r *RedisStore) deadKey() string           { return r.prefix + "queue:dead" }

func (r *RedisStore) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apierr.Storage("redis ping", err)
	}
	return nil
}

func (r *RedisStore) Append(ctx context.Context, entry *Entry) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return apierr.Storage("assign queue seq", err)
	}
	entry.Seq = seq
	entry.Status = StatusPending

	data, err := json.Marshal(entry)
	if err != nil {
		return apierr.Storage("encode queue entry", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(seq), data, 0)
	pipe.ZAdd(ctx, r.liveKey(), redis.Z{Score: float64(seq), Member: seq})
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Storage("append queue entry", err)
	}
	return nil
}

func (r *RedisStore) Pending(ctx context.Context) ([]*Entry, error) {
	return r.list(ctx, r.liveKey())
}

func (r *RedisStore) Update(ctx context.Context, entry *Entry) error {
	exists, err := r.client.Exists(ctx, r.entryKey(entry.Seq)).Result()
	if err != nil {
		return apierr.Storage("check queue entry", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return apierr.Storage("encode queue entry", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(entry.Seq), data, 0)
	if entry.Status == StatusDeadLetter {
		pipe.ZRem(ctx, r.liveKey(), entry.Seq)
		pipe.ZAdd(ctx, r.deadKey(), redis.Z{Score: float64(entry.Seq), Member: entry.Seq})
	} else {
		pipe.ZRem(ctx, r.deadKey(), entry.Seq)
		pipe.ZAdd(ctx, r.liveKey(), redis.Z{Score: float64(entry.Seq), Member: entry.Seq})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Storage("update queue entry", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, seq int64) error {
	removed, err := r.client.Del(ctx, r.entryKey(seq)).Result()
	if err != nil {
		return apierr.Storage("delete queue entry", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.liveKey(), seq)
	pipe.ZRem(ctx, r.deadKey(), seq)
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Storage("unindex queue entry", err)
	}
	return nil
}

func (r *RedisStore) DeadLetters(ctx context.Context) ([]*Entry, error) {
	return r.list(ctx, r.deadKey())
}

func (r *RedisStore) PurgeDeadLetters(ctx context.Context) (int, error) {
	members, err := r.client.ZRange(ctx, r.deadKey(), 0, -1).Result()
	if err != nil {
		return 0, apierr.Storage("list dead letters", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		pipe.Del(ctx, r.entryKey(seq))
	}
	pipe.Del(ctx, r.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apierr.Storage("purge dead letters", err)
	}
	return len(members), nil
}

func (r *RedisStore) Close() error { return nil }

func (r *RedisStore) list(ctx context.Context, indexKey string) ([]*Entry, error) {
	members, err := r.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, apierr.Storage("list queue index", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, r.entryKey(seq))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apierr.Storage("fetch queue entries", err)
	}

	entries := make([]*Entry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index pointed at a deleted entry
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, apierr.Storage("decode queue entry", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
