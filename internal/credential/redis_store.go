package credential

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"offsync-go/internal/apierr"
)

// RedisStore keeps the credential record in redis under a single fixed
// key. Useful when the queue already runs on the redis backend so all
// durable state shares one store.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore builds a RedisStore using the given client and key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "offsync:"
	}
	return &RedisStore{client: client, key: prefix + "credential"}
}

func (r *RedisStore) Get(ctx context.Context) (*Credential, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apierr.Storage("read credential from redis", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, apierr.Storage("decode credential record", err)
	}
	return &cred, nil
}

func (r *RedisStore) Save(ctx context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return apierr.Storage("encode credential record", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return apierr.Storage("write credential to redis", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return apierr.Storage("delete credential from redis", err)
	}
	return nil
}
