package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

const (
	// QueueKey is the Redis list tasks are pushed to.
	QueueKey = "flood_alerts"
	// DeadLetterKey collects tasks that exhausted their retries.
	DeadLetterKey = "flood_alerts:dead"

	defaultPollTimeout = 2 * time.Second
)

// ErrMalformedTask wraps a queue entry that could not be decoded.
var ErrMalformedTask = errors.New("malformed alert task")

// listClient is the subset of the Redis client the queue uses.
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisQueue is a list-backed queue: LPUSH to enqueue, BRPOP to dequeue.
// It also implements DeadLetter on a second list.
type RedisQueue struct {
	client      listClient
	pollTimeout time.Duration
}

// NewRedisQueue wraps a connected client.
func NewRedisQueue(client listClient) *RedisQueue {
	return &RedisQueue{client: client, pollTimeout: defaultPollTimeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode alert task: %w", err)
	}
	if err := q.client.LPush(ctx, QueueKey, payload).Err(); err != nil {
		return fmt.Errorf("push alert task: %w", err)
	}
	return nil
}

// Dequeue blocks in short BRPOP polls so cancellation is observed promptly.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		result, err := q.client.BRPop(ctx, q.pollTimeout, QueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("pop alert task: %w", err)
		}
		// result[0] is the key, result[1] the value.
		if len(result) != 2 {
			return Task{}, fmt.Errorf("%w: unexpected reply %v", ErrMalformedTask, result)
		}
		var t Task
		if err := json.Unmarshal([]byte(result[1]), &t); err != nil {
			return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
		}
		return t, nil
	}
}

type deadRecord struct {
	Task     Task      `json:"task"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func (q *RedisQueue) DeadLetter(ctx context.Context, t Task, cause error) error {
	rec := deadRecord{Task: t, FailedAt: domain.Now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, DeadLetterKey, payload).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}
