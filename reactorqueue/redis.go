package reactorqueue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsafe/riskreactor/errors"
)

// Redis key layout, relative to the configured prefix:
//
//	<prefix>pending    LIST  encoded jobs awaiting fetch, FIFO
//	<prefix>processing LIST  encoded jobs currently in flight
//	<prefix>dedup      SET   dedup keys of pending + in-flight jobs
//	<prefix>fetched    HASH  dedup key -> unix seconds of fetch
//	<prefix>delayed    ZSET  encoded retry jobs scored by ready time
//
// Add and the delayed-promotion sweep run as Lua scripts so the dedup
// index never disagrees with the lists. Fetch uses BLMOVE, which moves
// the job into the processing list in the same Redis command; a worker
// crash therefore leaves the job either pending or in flight, never
// lost.
var (
	addScript = redis.NewScript(`
		if redis.call('SADD', KEYS[1], ARGV[1]) == 1 then
			redis.call('RPUSH', KEYS[2], ARGV[2])
			return 1
		end
		return 0`)

	promoteScript = redis.NewScript(`
		local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
		for _, payload in ipairs(due) do
			redis.call('ZREM', KEYS[1], payload)
			redis.call('RPUSH', KEYS[2], payload)
		end
		return #due`)

	ackScript = redis.NewScript(`
		redis.call('LREM', KEYS[1], 1, ARGV[1])
		redis.call('SREM', KEYS[2], ARGV[2])
		redis.call('HDEL', KEYS[3], ARGV[2])
		return 1`)

	nackScript = redis.NewScript(`
		redis.call('LREM', KEYS[1], 1, ARGV[1])
		redis.call('HDEL', KEYS[2], ARGV[2])
		if tonumber(ARGV[4]) > 0 then
			redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
		else
			redis.call('RPUSH', KEYS[4], ARGV[3])
		end
		return 1`)

	requeueScript = redis.NewScript(`
		if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 1 then
			redis.call('HDEL', KEYS[2], ARGV[2])
			redis.call('RPUSH', KEYS[3], ARGV[1])
			return 1
		end
		return 0`)
)

// RedisQueue is the production queue shared by worker processes.
type RedisQueue struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOption adjusts queue construction.
type RedisOption func(*RedisQueue)

// WithPrefix overrides the default key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) { q.prefix = prefix }
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{client: client, prefix: "riskreactor:queue:", now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) pendingKey() string    { return q.prefix + "pending" }
func (q *RedisQueue) processingKey() string { return q.prefix + "processing" }
func (q *RedisQueue) dedupKey() string      { return q.prefix + "dedup" }
func (q *RedisQueue) fetchedKey() string    { return q.prefix + "fetched" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + "delayed" }

// Add enqueues unless the job's dedup key is already held.
func (q *RedisQueue) Add(ctx context.Context, job Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	err = addScript.Run(ctx, q.client,
		[]string{q.dedupKey(), q.pendingKey()},
		job.DedupKey(), string(payload)).Err()
	if err != nil {
		return errors.WrapTransient(err, "reactorqueue.RedisQueue", "Add", "run add script")
	}
	return nil
}

// Fetch promotes due retries, then blocks on BLMOVE up to timeout.
func (q *RedisQueue) Fetch(ctx context.Context, timeout time.Duration) (Job, error) {
	if err := q.promote(ctx); err != nil {
		return Job{}, err
	}
	payload, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "LEFT", "RIGHT", timeout).Result()
	if stderrors.Is(err, redis.Nil) {
		return Job{}, errors.ErrQueueEmpty
	}
	if err != nil {
		return Job{}, errors.WrapTransient(err, "reactorqueue.RedisQueue", "Fetch", "blmove")
	}
	job, err := DecodeJob([]byte(payload))
	if err != nil {
		// Poison payload: drop it from processing so it cannot wedge
		// the recovery sweep.
		q.client.LRem(ctx, q.processingKey(), 1, payload)
		return Job{}, err
	}
	if err := q.client.HSet(ctx, q.fetchedKey(), job.DedupKey(), q.now().Unix()).Err(); err != nil {
		return Job{}, errors.WrapTransient(err, "reactorqueue.RedisQueue", "Fetch", "record fetch time")
	}
	return job, nil
}

func (q *RedisQueue) promote(ctx context.Context) error {
	err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.pendingKey()},
		q.now().Unix()).Err()
	if err != nil {
		return errors.WrapTransient(err, "reactorqueue.RedisQueue", "promote", "run promote script")
	}
	return nil
}

// Ack removes the job from processing and frees its dedup slot.
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	err = ackScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.dedupKey(), q.fetchedKey()},
		string(payload), job.DedupKey()).Err()
	if err != nil {
		return errors.WrapTransient(err, "reactorqueue.RedisQueue", "Ack", "run ack script")
	}
	return nil
}

// Nack moves the job out of processing and schedules the retry. The
// dedup slot stays held; the retry occupies it.
func (q *RedisQueue) Nack(ctx context.Context, job Job, rescheduleAfter time.Duration) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	retryPayload, err := job.Retry().Encode()
	if err != nil {
		return err
	}
	var score int64
	if rescheduleAfter > 0 {
		score = q.now().Add(rescheduleAfter).Unix()
	}
	err = nackScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.fetchedKey(), q.delayedKey(), q.pendingKey()},
		string(payload), job.DedupKey(), string(retryPayload), score).Err()
	if err != nil {
		return errors.WrapTransient(err, "reactorqueue.RedisQueue", "Nack", "run nack script")
	}
	return nil
}

// Len reports pending plus delayed jobs.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	pending, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, errors.WrapTransient(err, "reactorqueue.RedisQueue", "Len", "llen")
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, errors.WrapTransient(err, "reactorqueue.RedisQueue", "Len", "zcard")
	}
	return int(pending + delayed), nil
}

// RequeueInFlight walks the processing list and returns jobs whose
// fetch time is older than the cutoff to the pending queue. Jobs with
// no recorded fetch time are treated as stuck.
func (q *RedisQueue) RequeueInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	payloads, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, errors.WrapTransient(err, "reactorqueue.RedisQueue", "RequeueInFlight", "lrange")
	}
	cutoff := q.now().Add(-olderThan).Unix()
	moved := 0
	for _, payload := range payloads {
		job, err := DecodeJob([]byte(payload))
		if err != nil {
			continue
		}
		fetchedAt, err := q.client.HGet(ctx, q.fetchedKey(), job.DedupKey()).Int64()
		if err == nil && fetchedAt > cutoff {
			continue
		}
		n, err := requeueScript.Run(ctx, q.client,
			[]string{q.processingKey(), q.fetchedKey(), q.pendingKey()},
			payload, job.DedupKey()).Int()
		if err != nil {
			return moved, errors.WrapTransient(err, "reactorqueue.RedisQueue", "RequeueInFlight", "run requeue script")
		}
		moved += n
	}
	return moved, nil
}
