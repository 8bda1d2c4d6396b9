package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// promoteScript moves due jobs from the delayed set to the tail of the ready list in one step
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

const (
	promoteLimit = 100
	pollTimeout  = time.Second

	// DefaultHeartbeatTTL is how long a consumer stays alive without a heartbeat
	DefaultHeartbeatTTL = 30 * time.Second
)

// RedisQueue keeps a ready list and a delayed sorted set scored by run time in
// milliseconds per queue name. Delivered but un-acked jobs sit in a processing list
// owned by the consumer that took them, so only consumers whose heartbeat has
// expired are ever recovered.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	consumerID   string
	heartbeatTTL time.Duration
	log          *zap.Logger
	closed       atomic.Bool
}

// NewRedisQueue wraps an existing client; prefix namespaces every key. Each queue gets
// a fresh consumer id, so a restarted process never owns the lists of its previous run.
func NewRedisQueue(client *redis.Client, prefix string, log *zap.Logger) *RedisQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		consumerID:   uuid.NewString(),
		heartbeatTTL: DefaultHeartbeatTTL,
		log:          log,
	}
}

// ConsumerID identifies this process's processing lists
func (q *RedisQueue) ConsumerID() string { return q.consumerID }

func (q *RedisQueue) readyKey(queue string) string   { return q.prefix + ":" + queue + ":ready" }
func (q *RedisQueue) delayedKey(queue string) string { return q.prefix + ":" + queue + ":delayed" }
func (q *RedisQueue) consumersKey() string           { return q.prefix + ":consumers" }

func (q *RedisQueue) processingKey(queue, consumer string) string {
	return q.prefix + ":" + queue + ":processing:" + consumer
}

func (q *RedisQueue) heartbeatKey(consumer string) string {
	return q.prefix + ":consumers:" + consumer + ":alive"
}

// Enqueue pushes to the ready list, or to the delayed set when delay > 0
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload interface{}, delay time.Duration) (string, error) {
	job, err := newJob(queue, payload, delay, time.Now())
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if job.Delay == 0 {
		err = q.client.LPush(ctx, q.readyKey(queue), raw).Err()
	} else {
		err = q.client.ZAdd(ctx, q.delayedKey(queue), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: raw,
		}).Err()
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}

	return job.ID, nil
}

// Dequeue promotes due delayed jobs, then atomically moves one ready job to the processing list
func (q *RedisQueue) Dequeue(ctx context.Context, queue string) (*Job, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(queue), q.readyKey(queue)}, now, promoteLimit).Err(); err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("promote delayed jobs: %w", err)
		}

		raw, err := q.client.BLMove(ctx, q.readyKey(queue), q.processingKey(queue, q.consumerID), "RIGHT", "LEFT", pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue %s: %w", queue, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Poison entry: drop it so it cannot wedge the worker
			q.log.Error("dropping undecodable job", zap.String("queue", queue), zap.Error(err))
			q.client.LRem(ctx, q.processingKey(queue, q.consumerID), 1, raw)
			continue
		}
		job.raw = raw
		return &job, nil
	}
}

// Ack removes the job from the processing list
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return fmt.Errorf("ack %s: job was not dequeued from redis", job.ID)
	}
	return q.client.LRem(ctx, q.processingKey(job.Queue, q.consumerID), 1, job.raw).Err()
}

// Register announces this consumer and writes its first heartbeat. Call it before
// the first Dequeue.
func (q *RedisQueue) Register(ctx context.Context) error {
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.consumersKey(), q.consumerID)
	pipe.Set(ctx, q.heartbeatKey(q.consumerID), time.Now().Unix(), q.heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register consumer %s: %w", q.consumerID, err)
	}
	return nil
}

// Heartbeat refreshes the consumer's liveness key until ctx is done, then removes it
// so peers can recover whatever is left un-acked.
func (q *RedisQueue) Heartbeat(ctx context.Context) {
	ticker := time.NewTicker(q.heartbeatTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := q.client.Del(cleanup, q.heartbeatKey(q.consumerID)).Err(); err != nil {
				q.log.Warn("failed to remove consumer heartbeat", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := q.client.Set(ctx, q.heartbeatKey(q.consumerID), time.Now().Unix(), q.heartbeatTTL).Err(); err != nil && ctx.Err() == nil {
				q.log.Warn("failed to refresh consumer heartbeat", zap.Error(err))
			}
		}
	}
}

// Recover moves the un-acked jobs of consumers whose heartbeat has expired back to
// the ready lists of the given queues and forgets those consumers. Live consumers,
// this one included, are left alone.
func (q *RedisQueue) Recover(ctx context.Context, queues ...string) (int, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}

	moved := 0
	for _, consumer := range consumers {
		if consumer == q.consumerID {
			continue
		}
		alive, err := q.client.Exists(ctx, q.heartbeatKey(consumer)).Result()
		if err != nil {
			return moved, fmt.Errorf("check consumer %s: %w", consumer, err)
		}
		if alive > 0 {
			continue
		}

		for _, queue := range queues {
			n, err := q.drain(ctx, queue, consumer)
			moved += n
			if err != nil {
				return moved, err
			}
			if n > 0 {
				q.log.Warn("re-queued un-acked jobs", zap.String("queue", queue), zap.String("consumer", consumer), zap.Int("count", n))
			}
		}
		if err := q.client.SRem(ctx, q.consumersKey(), consumer).Err(); err != nil {
			return moved, fmt.Errorf("forget consumer %s: %w", consumer, err)
		}
	}
	return moved, nil
}

func (q *RedisQueue) drain(ctx context.Context, queue, consumer string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(queue, consumer), q.readyKey(queue), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover %s from %s: %w", queue, consumer, err)
		}
		moved++
	}
}

// Depth reports the ready, delayed and processing sizes of a queue. Processing is
// summed over every registered consumer.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (ready, delayed, processing int64, err error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, 0, 0, err
	}

	pipe := q.client.Pipeline()
	readyCmd := pipe.LLen(ctx, q.readyKey(queue))
	delayedCmd := pipe.ZCard(ctx, q.delayedKey(queue))
	processingCmds := make([]*redis.IntCmd, 0, len(consumers))
	for _, consumer := range consumers {
		processingCmds = append(processingCmds, pipe.LLen(ctx, q.processingKey(queue, consumer)))
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	for _, cmd := range processingCmds {
		processing += cmd.Val()
	}
	return readyCmd.Val(), delayedCmd.Val(), processing, nil
}

// Close stops future Dequeue calls; the client is owned by the caller
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
