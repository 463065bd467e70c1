package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rohankatakam/timemachine/internal/models"
)

const (
	redisKeyPrefix = "ctm:cache:"
	redisSeqKey    = "ctm:cache-seq"
)

// hitScript bumps hit_count only while the entry exists, so an entry that
// expires after it was read is not recreated without its fields or TTL
var hitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
end
return false
`)

// RedisOptions configures RedisBackend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBackend keeps cached responses as redis hashes shared between
// processes. Keys expire natively once the entry's lifetime has passed.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and verifies the connection
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisBackend{client: client}, nil
}

func redisKey(hash string) string {
	return redisKeyPrefix + hash
}

// Get reads the entry hash and, on a live hit, increments hit_count
func (b *RedisBackend) Get(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error) {
	key := redisKey(hash)
	fields, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	entry, err := decodeEntry(hash, fields)
	if err != nil {
		return nil, false, err
	}
	if !entry.Live(now) {
		return nil, false, nil
	}

	hits, ok, err := b.bumpHits(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	entry.HitCount = int(hits)
	return entry, true, nil
}

// bumpHits increments hit_count of an existing key. ok is false when the
// key is gone.
func (b *RedisBackend) bumpHits(ctx context.Context, key string) (int64, bool, error) {
	hits, err := hitScript.Run(ctx, b.client, []string{key}).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis hit count failed for key %s: %w", key, err)
	}
	return hits, true, nil
}

// Put writes the entry hash with a hit count of 1
func (b *RedisBackend) Put(ctx context.Context, entry *models.CachedResponse) error {
	key := redisKey(entry.QueryHash)

	id, err := b.client.HGet(ctx, key, "id").Int64()
	if err == redis.Nil {
		id, err = b.client.Incr(ctx, redisSeqKey).Result()
	}
	if err != nil {
		return fmt.Errorf("redis id failed for key %s: %w", key, err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", id,
			"repo_id", entry.RepoID,
			"query_text", entry.QueryText,
			"response", entry.Response,
			"created_at", entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at", entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"hit_count", 1,
		)
		if lifetime := entry.ExpiresAt.Sub(entry.CreatedAt); lifetime > 0 {
			pipe.Expire(ctx, key, lifetime)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}

	entry.ID = id
	entry.HitCount = 1
	return nil
}

// Close closes the redis client
func (b *RedisBackend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func decodeEntry(hash string, fields map[string]string) (*models.CachedResponse, error) {
	entry := &models.CachedResponse{
		QueryHash: hash,
		QueryText: fields["query_text"],
		Response:  fields["response"],
	}

	var err error
	if entry.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}
	if entry.RepoID, err = strconv.ParseInt(fields["repo_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode repo_id: %w", err)
	}
	if entry.HitCount, err = strconv.Atoi(fields["hit_count"]); err != nil {
		return nil, fmt.Errorf("decode hit_count: %w", err)
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if entry.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	return entry, nil
}
