package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisTaskKeyPrefix = "task:"
	redisTaskSet       = "tasks"
)

// RedisStore keeps each task in a hash at task:<id> and tracks ids in the
// set "tasks".
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(taskID string) string { return redisTaskKeyPrefix + taskID }

func (r *RedisStore) Set(ctx context.Context, taskID, field, value string) error {
	return r.SetFields(ctx, taskID, map[string]string{field: value})
}

func (r *RedisStore) SetFields(ctx context.Context, taskID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey(taskID), args...)
		p.SAdd(ctx, redisTaskSet, taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset %s: %w", taskID, err)
	}
	return nil
}

// setUnlessScript: KEYS[1] is the hash, ARGV is guard, len(blocked),
// blocked..., then field/value pairs. Returns -1 for a missing hash, 0 when
// the guard blocked the write, 1 after writing.
var setUnlessScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local n = tonumber(ARGV[2])
for i = 3, 2 + n do
  if cur == ARGV[i] then
    return 0
  end
end
for i = 3 + n, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

func (r *RedisStore) SetFieldsUnless(ctx context.Context, taskID, guard string, blocked []string, fields map[string]string) (bool, error) {
	args := make([]any, 0, 2+len(blocked)+2*len(fields))
	args = append(args, guard, len(blocked))
	for _, b := range blocked {
		args = append(args, b)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := setUnlessScript.Run(ctx, r.client, []string{redisKey(taskID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis guarded hset %s: %w", taskID, err)
	}
	switch n {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (r *RedisStore) Get(ctx context.Context, taskID string) (Record, error) {
	rec, err := r.client.HGetAll(ctx, redisKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", taskID, err)
	}
	if len(rec) == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *RedisStore) Exists(ctx context.Context, taskID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", taskID, err)
	}
	return n > 0, nil
}

func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, redisTaskSet).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	// ids embed their creation time in millis, so lexical order is close
	// enough to creation order
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }
