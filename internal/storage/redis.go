package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSink struct {
	client *redis.Client
	key    string
}

func NewRedisSink(addr string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSink{
		client: client,
		key:    "proxyverify:result",
	}, nil
}

func (r *RedisSink) Save(result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listKey := r.key + ":verified"

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, data, 0)
	pipe.Del(ctx, listKey)
	if len(result.Verified) > 0 {
		members := make([]interface{}, len(result.Verified))
		for i, addr := range result.Verified {
			members[i] = addr
		}
		pipe.RPush(ctx, listKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
