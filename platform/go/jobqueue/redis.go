package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultPrefix = "render:"
	pollInterval  = time.Second
)

// Lua scripts keep each transition atomic; return codes: -1 missing, -2 not active,
// -3 regression, -4 no longer claimed.
var (
	activateScript = redis.NewScript(`
if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then return -4 end
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  redis.call('ZREM', KEYS[3], ARGV[1])
  return -1
end
if state ~= 'waiting' then
  if state == 'active' then redis.call('LPUSH', KEYS[2], ARGV[1]) end
  return -2
end
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'active', 'updated_at', ARGV[2])
redis.call('PERSIST', KEYS[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

	progressScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= 'active' then return -2 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local nxt = tonumber(ARGV[1])
if nxt < cur then return -3 end
redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return nxt
`)

	finishScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= 'active' then return -2 end
if ARGV[1] == 'completed' then
  redis.call('HSET', KEYS[1], 'state', 'completed', 'progress', '100', 'result', ARGV[2], 'updated_at', ARGV[3])
else
  redis.call('HSET', KEYS[1], 'state', 'failed', 'error', ARGV[2], 'updated_at', ARGV[3])
end
redis.call('HDEL', KEYS[1], 'html')
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
redis.call('LREM', KEYS[2], 1, ARGV[5])
redis.call('ZREM', KEYS[3], ARGV[5])
return 1
`)

	// reapScript returns 1 when it failed an active job, 2 when it requeued a
	// claim that never activated and 0 when there was nothing to do.
	reapScript = redis.NewScript(`
local deadline = redis.call('ZSCORE', KEYS[3], ARGV[1])
if not deadline or tonumber(deadline) > tonumber(ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[3], ARGV[1])
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'waiting' then
  if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then return 0 end
  redis.call('RPUSH', KEYS[4], ARGV[1])
  return 2
end
redis.call('LREM', KEYS[2], 1, ARGV[1])
if state ~= 'active' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'failed', 'error', ARGV[5], 'updated_at', ARGV[3])
redis.call('HDEL', KEYS[1], 'html')
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return 1
`)
)

// RedisQueue keeps each job in a hash and moves ids from a waiting list to an
// active list with BRPOPLPUSH so any worker process can claim them. Claimed ids
// carry a lease in a sorted set scored by deadline; Sweep reclaims lapsed ones.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedisQueue wraps client.
func NewRedisQueue(client redis.UniversalClient, cfg Config) *RedisQueue {
	if client == nil {
		panic("jobqueue: redis client is required")
	}
	return &RedisQueue{client: client, cfg: cfg.withDefaults(), prefix: defaultPrefix, now: time.Now}
}

func (q *RedisQueue) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *RedisQueue) waitingKey() string { return q.prefix + "waiting" }
func (q *RedisQueue) activeKey() string { return q.prefix + "active" }
func (q *RedisQueue) leaseKey() string { return q.prefix + "leases" }

// leaseDeadline is scored in unix milliseconds.
func (q *RedisQueue) leaseDeadline(now time.Time) int64 {
	return now.Add(q.cfg.Lease).UnixMilli()
}

func (q *RedisQueue) retentionSeconds() int64 {
	if secs := int64(q.cfg.Retention / time.Second); secs > 0 {
		return secs
	}
	return 1
}

func (q *RedisQueue) stamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job NewJob) (string, error) {
	id := uuid.NewString()
	key := q.jobKey(id)
	now := q.stamp()

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", id,
			"tenant_id", strconv.FormatInt(job.TenantID, 10),
			"tenant_slug", job.TenantSlug,
			"report_id", job.ReportID,
			"html", job.HTML,
			"state", string(StateWaiting),
			"progress", "0",
			"created_at", now,
			"updated_at", now,
		)
		pipe.Expire(ctx, key, q.cfg.WaitingTTL)
		pipe.LPush(ctx, q.waitingKey(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue render job: %w", err)
	}
	return id, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}

		id, err := q.client.BRPopLPush(ctx, q.waitingKey(), q.activeKey(), pollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue render job: %w", err)
		}

		code, err := activateScript.Run(ctx, q.client,
			[]string{q.jobKey(id), q.activeKey(), q.leaseKey()},
			id, q.stamp(), q.leaseDeadline(q.now()),
		).Int()
		if err != nil {
			return Job{}, fmt.Errorf("activate render job: %w", err)
		}
		if code < 0 {
			// Expired while waiting, or requeued by a sweep before activation.
			continue
		}

		return q.Status(ctx, id)
	}
}

func (q *RedisQueue) SetProgress(ctx context.Context, id string, progress int) error {
	if !validProgress(progress) {
		return errProgressRange(progress)
	}
	code, err := progressScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.leaseKey()},
		progress, q.stamp(), q.leaseDeadline(q.now()), id,
	).Int()
	if err != nil {
		return fmt.Errorf("set render job progress: %w", err)
	}
	return scriptError(code)
}

func (q *RedisQueue) Complete(ctx context.Context, id string, result string) error {
	return q.finish(ctx, id, StateCompleted, result)
}

func (q *RedisQueue) Fail(ctx context.Context, id string, reason string) error {
	return q.finish(ctx, id, StateFailed, reason)
}

func (q *RedisQueue) finish(ctx context.Context, id string, state State, payload string) error {
	code, err := finishScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.activeKey(), q.leaseKey()},
		string(state), payload, q.stamp(), q.retentionSeconds(), id,
	).Int()
	if err != nil {
		return fmt.Errorf("finish render job: %w", err)
	}
	return scriptError(code)
}

func (q *RedisQueue) Status(ctx context.Context, id string) (Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Job{}, fmt.Errorf("read render job: %w", err)
	}
	if len(fields) == 0 {
		return Job{}, ErrNotFound
	}
	job, err := decodeJob(fields)
	if err != nil {
		return Job{}, fmt.Errorf("decode render job %s: %w", id, err)
	}
	return job, nil
}

// Sweep gives a lease to every active id that lacks one, then fails active jobs
// whose lease lapsed and requeues claims that never activated. It returns how
// many jobs it reclaimed.
func (q *RedisQueue) Sweep(ctx context.Context) (int, error) {
	now := q.now()

	active, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list active render jobs: %w", err)
	}
	if len(active) > 0 {
		deadline := float64(q.leaseDeadline(now))
		orphans := make([]*redis.Z, 0, len(active))
		for _, id := range active {
			orphans = append(orphans, &redis.Z{Score: deadline, Member: id})
		}
		if err := q.client.ZAddNX(ctx, q.leaseKey(), orphans...).Err(); err != nil {
			return 0, fmt.Errorf("lease active render jobs: %w", err)
		}
	}

	nowMillis := now.UnixMilli()
	expired, err := q.client.ZRangeByScore(ctx, q.leaseKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMillis, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list lapsed render leases: %w", err)
	}

	reclaimed := 0
	for _, id := range expired {
		code, err := reapScript.Run(ctx, q.client,
			[]string{q.jobKey(id), q.activeKey(), q.leaseKey(), q.waitingKey()},
			id, nowMillis, q.stamp(), q.retentionSeconds(), ReasonWorkerLost,
		).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim render job %s: %w", id, err)
		}
		if code > 0 {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func decodeJob(fields map[string]string) (Job, error) {
	job := Job{
		ID:         fields["id"],
		TenantSlug: fields["tenant_slug"],
		ReportID:   fields["report_id"],
		HTML:       fields["html"],
		State:      State(fields["state"]),
		Result:     fields["result"],
		Error:      fields["error"],
	}
	var err error
	if job.TenantID, err = strconv.ParseInt(fields["tenant_id"], 10, 64); err != nil {
		return Job{}, fmt.Errorf("tenant_id: %w", err)
	}
	if job.Progress, err = strconv.Atoi(fields["progress"]); err != nil {
		return Job{}, fmt.Errorf("progress: %w", err)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return Job{}, fmt.Errorf("created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return Job{}, fmt.Errorf("updated_at: %w", err)
	}
	return job, nil
}

func scriptError(code int) error {
	switch code {
	case -1:
		return ErrNotFound
	case -2:
		return ErrNotActive
	case -3:
		return ErrProgressRegression
	default:
		return nil
	}
}
