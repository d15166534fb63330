package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client used by RedisSink.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisSink mirrors run state in Redis:
//   - <prefix><runID> holds the latest status as JSON
//   - <prefix><runID>:pdfs is a hash from PDF URL to record JSON
//
// Both keys expire after the configured TTL.
type RedisSink struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		s.prefix = prefix
	}
}

// WithRedisTTL sets the key expiration. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) {
		s.ttl = ttl
	}
}

// NewRedisSink connects a RedisSink to the server at addr.
func NewRedisSink(addr string, opts ...RedisOption) *RedisSink {
	return newRedisSink(redis.NewClient(&redis.Options{Addr: addr}), opts...)
}

func newRedisSink(client redisClient, opts ...RedisOption) *RedisSink {
	s := &RedisSink{
		client: client,
		prefix: config.DefaultRedisPrefix,
		ttl:    config.DefaultRedisTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusKey returns the key holding the status of runID.
func (s *RedisSink) StatusKey(runID string) string {
	return s.prefix + runID
}

// RecordsKey returns the key of the record hash of runID.
func (s *RedisSink) RecordsKey(runID string) string {
	return s.prefix + runID + ":pdfs"
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, ev model.Event) error {
	switch {
	case ev.Status != nil:
		payload, err := json.Marshal(ev.Status)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, s.StatusKey(ev.RunID), payload, s.ttl).Err(); err != nil {
			return fmt.Errorf("redis: failed to set status: %w", err)
		}
	case ev.Record != nil:
		payload, err := json.Marshal(ev.Record)
		if err != nil {
			return err
		}
		key := s.RecordsKey(ev.RunID)
		if err := s.client.HSet(ctx, key, ev.Record.URL, payload).Err(); err != nil {
			return fmt.Errorf("redis: failed to store record: %w", err)
		}
		if s.ttl > 0 {
			if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
				return fmt.Errorf("redis: failed to set expiry: %w", err)
			}
		}
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
