package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cyberduck:session:"

// RedisStore はRedisのハッシュ1つを1セッションとして扱うStore実装。
// 書き込みのたびにTTLを延長し、期限切れのセッションはRedisが破棄する。
type RedisStore struct {
	rdb    redis.UniversalClient
	maxAge time.Duration
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(rdb redis.UniversalClient, maxAge time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, maxAge: maxAge}
}

// NewRedisClient は接続URLからRedisクライアントを生成する。
// 例: "redis://:password@localhost:6379/0"
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func redisKey(sid string) string {
	return redisKeyPrefix + sid
}

// Get はセッションのフィールドを取得する。
func (s *RedisStore) Get(ctx context.Context, sid, key string) ([]byte, bool, error) {
	v, err := s.rdb.HGet(ctx, redisKey(sid), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget failed: %w", err)
	}
	return v, true, nil
}

// Set はセッションのフィールドを保存し、TTLを更新する。
func (s *RedisStore) Set(ctx context.Context, sid, key string, value []byte) error {
	k := redisKey(sid)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, key, value)
		pipe.Expire(ctx, k, s.maxAge)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// Remove はセッションのフィールドを削除する。
func (s *RedisStore) Remove(ctx context.Context, sid, key string) error {
	if err := s.rdb.HDel(ctx, redisKey(sid), key).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// Take はMULTI/EXECでHGETとHDELを不可分に実行する。
// 同じフィールドに対する並行したTakeのうち、値を受け取れるのは1つだけ。
func (s *RedisStore) Take(ctx context.Context, sid, key string) ([]byte, bool, error) {
	k := redisKey(sid)
	var get *redis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, k, key)
		pipe.HDel(ctx, k, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis take failed: %w", err)
	}

	v, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis take failed: %w", err)
	}
	return v, true, nil
}

// Rename はセッションのハッシュをTTLごと新しいキーへ移す。
func (s *RedisStore) Rename(ctx context.Context, oldSID, newSID string) error {
	err := s.rdb.Rename(ctx, redisKey(oldSID), redisKey(newSID)).Err()
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("redis rename failed: %w", err)
	}
	return nil
}

// Delete はセッションのハッシュを削除する。
func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	if err := s.rdb.Del(ctx, redisKey(sid)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// isNoSuchKey はRENAMEの移動元が存在しない場合のエラーかを判定する。
func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
