package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reportflow/internal/types"
)

// Options configures a RedisStore.
type Options struct {
	// KeyPrefix namespaces all Redis keys. Defaults to "reportflow".
	KeyPrefix string
	// Retry governs attempts and backoff for failed jobs.
	Retry RetryPolicy
	// StalledInterval is how long a claimed job may go without a heartbeat
	// before it is considered stalled.
	StalledInterval time.Duration
	// MaxStalledCount bounds how many times a job may be recovered from a
	// stall before it is declared failed.
	MaxStalledCount int
	// Clock abstracts time for testability. Defaults to the real clock.
	Clock types.Clock
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = defaultKeyPrefix
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy
	}
	if o.StalledInterval == 0 {
		o.StalledInterval = 30 * time.Second
	}
	if o.MaxStalledCount == 0 {
		o.MaxStalledCount = 3
	}
	if o.Clock == nil {
		o.Clock = types.RealClock{}
	}
	return o
}

// RedisStore is the Redis-backed job store. All scheduling state lives in
// Redis so the store is durable across restarts and shared across worker
// instances.
type RedisStore struct {
	rdb    redis.UniversalClient
	opts   Options
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore on top of an existing Redis client.
func NewRedisStore(rdb redis.UniversalClient, opts Options, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// RetryPolicy returns the retry policy the store applies to failed jobs.
func (s *RedisStore) RetryPolicy() RetryPolicy {
	return s.opts.Retry
}

// recurringDef is the stored definition of a cron-recurring job.
type recurringDef struct {
	Payload  json.RawMessage `json:"payload"`
	CronExpr string          `json:"cron"`
	Timezone string          `json:"tz"`
}

// claimScript atomically moves one due job from the waiting set to the
// active set. Exclusivity between competing workers comes from the ZREM:
// only the caller whose script removed the member owns the claim.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
local id = due[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// EnqueueDelayed schedules a one-shot job to fire at fireAt. Enqueuing with
// an existing jobID atomically replaces the prior pending definition, so
// there are never duplicate firings for one logical job.
func (s *RedisStore) EnqueueDelayed(ctx context.Context, queue, jobID string, payload any, fireAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("EnqueueDelayed: marshal payload: %w", err)
	}

	k := newKeys(s.opts.KeyPrefix, queue)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.job(jobID))
		pipe.HSet(ctx, k.job(jobID), map[string]any{
			"payload": string(body),
			"meta":    "{}",
			"epoch":   uuid.NewString(),
			"attempt": 0,
			"stalled": 0,
			"state":   string(StateWaiting),
			"fire_at": fireAt.UnixMilli(),
			"cron":    "",
			"tz":      "",
		})
		pipe.ZRem(ctx, k.active(), jobID)
		pipe.ZAdd(ctx, k.waiting(), redis.Z{Score: float64(fireAt.UnixMilli()), Member: jobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("EnqueueDelayed: %w", err)
	}

	s.logger.Info("job enqueued",
		"queue", queue,
		"job_id", jobID,
		"fire_at", fireAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// EnqueueRecurring registers a cron-recurring job and materializes its next
// occurrence. The definition is keyed by jobID: enqueuing again with the
// same id replaces both the definition and any pending occurrence.
func (s *RedisStore) EnqueueRecurring(ctx context.Context, queue, jobID string, payload any, cronExpr, timezone string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("EnqueueRecurring: marshal payload: %w", err)
	}

	def := recurringDef{Payload: body, CronExpr: cronExpr, Timezone: timezone}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("EnqueueRecurring: marshal definition: %w", err)
	}

	next, err := NextFire(cronExpr, timezone, s.opts.Clock.Now())
	if err != nil {
		return fmt.Errorf("EnqueueRecurring: %w", err)
	}

	k := newKeys(s.opts.KeyPrefix, queue)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.recurring(), jobID, string(defJSON))
		pipe.Del(ctx, k.job(jobID))
		pipe.HSet(ctx, k.job(jobID), map[string]any{
			"payload": string(body),
			"meta":    "{}",
			"epoch":   uuid.NewString(),
			"attempt": 0,
			"stalled": 0,
			"state":   string(StateWaiting),
			"fire_at": next.UnixMilli(),
			"cron":    cronExpr,
			"tz":      timezone,
		})
		pipe.ZRem(ctx, k.active(), jobID)
		pipe.ZAdd(ctx, k.waiting(), redis.Z{Score: float64(next.UnixMilli()), Member: jobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("EnqueueRecurring: %w", err)
	}

	s.logger.Info("recurring job registered",
		"queue", queue,
		"job_id", jobID,
		"cron", cronExpr,
		"timezone", timezone,
		"next_fire_at", next.Format(time.RFC3339),
	)
	return nil
}

// Cancel removes a job's pending occurrence and recurring definition.
// Cancelling an unknown id is a no-op. An in-flight attempt already claimed
// by a worker is allowed to finish, but its completion will not schedule
// further attempts or re-register the recurring definition.
func (s *RedisStore) Cancel(ctx context.Context, queue, jobID string) error {
	k := newKeys(s.opts.KeyPrefix, queue)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.waiting(), jobID)
		pipe.HDel(ctx, k.recurring(), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}

	// If the job is mid-flight, flag it so Complete/Fail drop it instead of
	// rescheduling. Otherwise the hash is dead state and can go.
	switch err := s.rdb.ZScore(ctx, k.active(), jobID).Err(); {
	case err == redis.Nil:
		if err := s.rdb.Del(ctx, k.job(jobID)).Err(); err != nil {
			return fmt.Errorf("Cancel: delete job hash: %w", err)
		}
	case err != nil:
		return fmt.Errorf("Cancel: check active: %w", err)
	default:
		if err := s.rdb.HSet(ctx, k.job(jobID), "state", string(StateCanceled)).Err(); err != nil {
			return fmt.Errorf("Cancel: mark canceled: %w", err)
		}
	}

	s.logger.Info("job canceled", "queue", queue, "job_id", jobID)
	return nil
}

// Counts returns the waiting and active job counts for a queue.
func (s *RedisStore) Counts(ctx context.Context, queue string) (types.QueueCounts, error) {
	k := newKeys(s.opts.KeyPrefix, queue)

	waiting, err := s.rdb.ZCard(ctx, k.waiting()).Result()
	if err != nil {
		return types.QueueCounts{}, fmt.Errorf("Counts: waiting: %w", err)
	}
	active, err := s.rdb.ZCard(ctx, k.active()).Result()
	if err != nil {
		return types.QueueCounts{}, fmt.Errorf("Counts: active: %w", err)
	}

	return types.QueueCounts{Waiting: waiting, Active: active}, nil
}

// State returns the stored state of a job, or StateCanceled with ok=false
// when the job is unknown to the store.
func (s *RedisStore) State(ctx context.Context, queue, jobID string) (JobState, bool, error) {
	k := newKeys(s.opts.KeyPrefix, queue)

	state, err := s.rdb.HGet(ctx, k.job(jobID), "state").Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("State: %w", err)
	}
	return JobState(state), true, nil
}

// Claim pops one due job from the queue, moves it to the active set, and
// increments its attempt counter. Returns ErrNoJob when nothing is due.
func (s *RedisStore) Claim(ctx context.Context, queue string) (*Job, error) {
	k := newKeys(s.opts.KeyPrefix, queue)
	now := s.opts.Clock.Now()

	res, err := claimScript.Run(ctx, s.rdb,
		[]string{k.waiting(), k.active()},
		now.UnixMilli(),
	).Result()
	if err == redis.Nil {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}

	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("Claim: unexpected script result %T", res)
	}

	attempt, err := s.rdb.HIncrBy(ctx, k.job(jobID), "attempt", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("Claim: increment attempt: %w", err)
	}
	if err := s.rdb.HSet(ctx, k.job(jobID), "state", string(StateActive)).Err(); err != nil {
		return nil, fmt.Errorf("Claim: mark active: %w", err)
	}

	job, err := s.readJob(ctx, k, queue, jobID)
	if err != nil {
		return nil, err
	}
	job.Attempt = int(attempt)

	return job, nil
}

// Heartbeat refreshes the liveness timestamp of a claimed job so the
// stalled-job reaper leaves it alone. Heartbeating a job no longer in the
// active set is a no-op (XX: never re-adds).
func (s *RedisStore) Heartbeat(ctx context.Context, queue, jobID string) error {
	k := newKeys(s.opts.KeyPrefix, queue)
	err := s.rdb.ZAddArgs(ctx, k.active(), redis.ZAddArgs{
		XX:      true,
		Members: []redis.Z{{Score: float64(s.opts.Clock.Now().UnixMilli()), Member: jobID}},
	}).Err()
	if err != nil {
		return fmt.Errorf("Heartbeat: %w", err)
	}
	return nil
}

// Complete acknowledges a successfully processed job. One-shot jobs are
// removed; recurring jobs roll over to their next occurrence with a fresh
// attempt counter and cleared metadata, unless the definition was canceled
// while the attempt was in flight. An attempt whose ID was re-enqueued
// mid-flight is dropped without touching the replacement's state.
func (s *RedisStore) Complete(ctx context.Context, job *Job) error {
	k := newKeys(s.opts.KeyPrefix, job.Queue)

	owned, err := s.ownsAttempt(ctx, k, job)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if !owned {
		s.logger.Info("dropping completion of superseded attempt",
			"queue", job.Queue,
			"job_id", job.ID,
		)
		return nil
	}

	if err := s.rdb.ZRem(ctx, k.active(), job.ID).Err(); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}

	canceled, err := s.wasCanceled(ctx, k, job.ID)
	if err != nil {
		return err
	}
	if canceled || !job.Recurring() {
		// ZRem waiting covers a stall-recovery requeue of this same
		// occurrence: the outcome lands here, so the retry must go too.
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, k.waiting(), job.ID)
			pipe.Del(ctx, k.job(job.ID))
			return nil
		})
		if err != nil {
			return fmt.Errorf("Complete: cleanup: %w", err)
		}
		return nil
	}

	return s.scheduleNextOccurrence(ctx, k, job)
}

// Fail records a failed attempt. Attempts below the retry budget are
// re-queued with exponential backoff; exhausted one-shot jobs land in the
// failed set, and exhausted recurring occurrences roll over to the next
// occurrence so one bad morning does not kill the schedule.
func (s *RedisStore) Fail(ctx context.Context, job *Job, jobErr error) error {
	k := newKeys(s.opts.KeyPrefix, job.Queue)

	owned, err := s.ownsAttempt(ctx, k, job)
	if err != nil {
		return fmt.Errorf("Fail: %w", err)
	}
	if !owned {
		s.logger.Info("dropping failure of superseded attempt",
			"queue", job.Queue,
			"job_id", job.ID,
			"error", jobErr.Error(),
		)
		return nil
	}

	if err := s.rdb.ZRem(ctx, k.active(), job.ID).Err(); err != nil {
		return fmt.Errorf("Fail: %w", err)
	}

	canceled, err := s.wasCanceled(ctx, k, job.ID)
	if err != nil {
		return err
	}
	if canceled {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, k.waiting(), job.ID)
			pipe.Del(ctx, k.job(job.ID))
			return nil
		})
		if err != nil {
			return fmt.Errorf("Fail: cleanup: %w", err)
		}
		return nil
	}

	now := s.opts.Clock.Now()

	if !s.opts.Retry.Exhausted(job.Attempt) {
		delay := s.opts.Retry.NextBackoff(job.Attempt)
		fireAt := now.Add(delay)
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k.job(job.ID), map[string]any{
				"state":   string(StateWaiting),
				"fire_at": fireAt.UnixMilli(),
			})
			pipe.ZAdd(ctx, k.waiting(), redis.Z{Score: float64(fireAt.UnixMilli()), Member: job.ID})
			return nil
		})
		if err != nil {
			return fmt.Errorf("Fail: requeue: %w", err)
		}

		s.logger.Warn("job failed, retry scheduled",
			"queue", job.Queue,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"max_attempts", s.opts.Retry.MaxAttempts,
			"delay", delay.String(),
			"error", jobErr.Error(),
		)
		return nil
	}

	s.logger.Error("job failed permanently",
		"queue", job.Queue,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"error", jobErr.Error(),
	)

	if err := s.rdb.ZAdd(ctx, k.failed(), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("Fail: record failure: %w", err)
	}

	if job.Recurring() {
		return s.scheduleNextOccurrence(ctx, k, job)
	}

	if err := s.rdb.HSet(ctx, k.job(job.ID), "state", string(StateFailed)).Err(); err != nil {
		return fmt.Errorf("Fail: mark failed: %w", err)
	}
	return nil
}

// SetMeta overwrites a job's mutable metadata. The worker that owns the
// occurrence's retry sequence is the only writer, so a plain overwrite is
// safe. Metadata survives retries of the occurrence but is reset when a
// recurring job rolls over.
func (s *RedisStore) SetMeta(ctx context.Context, queue, jobID string, meta map[string]string) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("SetMeta: %w", err)
	}

	k := newKeys(s.opts.KeyPrefix, queue)
	if err := s.rdb.HSet(ctx, k.job(jobID), "meta", string(body)).Err(); err != nil {
		return fmt.Errorf("SetMeta: %w", err)
	}
	return nil
}

// RecoverStalled scans the active set for jobs whose last heartbeat is older
// than the stall interval. A stalled job is returned to the waiting set; a
// job stalled more than MaxStalledCount times is declared failed instead of
// being retried forever.
func (s *RedisStore) RecoverStalled(ctx context.Context, queue string) (RecoveryStats, error) {
	k := newKeys(s.opts.KeyPrefix, queue)
	now := s.opts.Clock.Now()
	cutoff := now.Add(-s.opts.StalledInterval)

	ids, err := s.rdb.ZRangeByScore(ctx, k.active(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return RecoveryStats{}, fmt.Errorf("RecoverStalled: %w", err)
	}

	var stats RecoveryStats
	for _, jobID := range ids {
		stalled, err := s.rdb.HIncrBy(ctx, k.job(jobID), "stalled", 1).Result()
		if err != nil {
			return stats, fmt.Errorf("RecoverStalled: count stall: %w", err)
		}
		if err := s.rdb.ZRem(ctx, k.active(), jobID).Err(); err != nil {
			return stats, fmt.Errorf("RecoverStalled: release claim: %w", err)
		}

		if int(stalled) > s.opts.MaxStalledCount {
			_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, k.job(jobID), "state", string(StateFailed))
				pipe.ZAdd(ctx, k.failed(), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
				return nil
			})
			if err != nil {
				return stats, fmt.Errorf("RecoverStalled: mark failed: %w", err)
			}
			stats.Failed++
			s.logger.Error("stalled job declared failed",
				"queue", queue,
				"job_id", jobID,
				"stall_count", stalled,
			)
			continue
		}

		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k.job(jobID), map[string]any{
				"state":   string(StateWaiting),
				"fire_at": now.UnixMilli(),
			})
			pipe.ZAdd(ctx, k.waiting(), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("RecoverStalled: requeue: %w", err)
		}
		stats.Requeued++
		s.logger.Warn("stalled job requeued",
			"queue", queue,
			"job_id", jobID,
			"stall_count", stalled,
		)
	}

	return stats, nil
}

// ownsAttempt reports whether the stored job hash still belongs to the
// enqueue this attempt was claimed from. A missing hash or a different
// epoch means the ID was canceled or re-enqueued mid-flight; the stale
// attempt's outcome must then leave the stored state alone.
func (s *RedisStore) ownsAttempt(ctx context.Context, k keys, job *Job) (bool, error) {
	epoch, err := s.rdb.HGet(ctx, k.job(job.ID), "epoch").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check attempt ownership: %w", err)
	}
	return epoch == job.Epoch, nil
}

// wasCanceled reports whether a job's definition was canceled while the
// attempt was in flight. A missing hash counts as canceled: there is nothing
// left to reschedule.
func (s *RedisStore) wasCanceled(ctx context.Context, k keys, jobID string) (bool, error) {
	state, err := s.rdb.HGet(ctx, k.job(jobID), "state").Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check canceled: %w", err)
	}
	return JobState(state) == StateCanceled, nil
}

// scheduleNextOccurrence rolls a recurring job over to its next cron
// occurrence, re-reading the stored definition so schedule updates applied
// while the occurrence was in flight take effect. Attempt counter and
// metadata are reset: they are scoped to one occurrence.
func (s *RedisStore) scheduleNextOccurrence(ctx context.Context, k keys, job *Job) error {
	defJSON, err := s.rdb.HGet(ctx, k.recurring(), job.ID).Result()
	if err == redis.Nil {
		// Definition removed mid-flight; nothing further to schedule.
		if err := s.rdb.Del(ctx, k.job(job.ID)).Err(); err != nil {
			return fmt.Errorf("scheduleNextOccurrence: cleanup: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduleNextOccurrence: read definition: %w", err)
	}

	var def recurringDef
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return fmt.Errorf("scheduleNextOccurrence: decode definition: %w", err)
	}

	next, err := NextFire(def.CronExpr, def.Timezone, s.opts.Clock.Now())
	if err != nil {
		return fmt.Errorf("scheduleNextOccurrence: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.job(job.ID))
		pipe.HSet(ctx, k.job(job.ID), map[string]any{
			"payload": string(def.Payload),
			"meta":    "{}",
			"epoch":   uuid.NewString(),
			"attempt": 0,
			"stalled": 0,
			"state":   string(StateWaiting),
			"fire_at": next.UnixMilli(),
			"cron":    def.CronExpr,
			"tz":      def.Timezone,
		})
		pipe.ZAdd(ctx, k.waiting(), redis.Z{Score: float64(next.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduleNextOccurrence: %w", err)
	}

	s.logger.Info("recurring job rolled over",
		"queue", job.Queue,
		"job_id", job.ID,
		"next_fire_at", next.Format(time.RFC3339),
	)
	return nil
}

// readJob hydrates a Job from its Redis hash.
func (s *RedisStore) readJob(ctx context.Context, k keys, queue, jobID string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, k.job(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("readJob: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("readJob: job %s/%s has no stored fields", queue, jobID)
	}

	job := &Job{
		ID:       jobID,
		Queue:    queue,
		Payload:  json.RawMessage(fields["payload"]),
		Meta:     map[string]string{},
		Epoch:    fields["epoch"],
		CronExpr: fields["cron"],
		Timezone: fields["tz"],
	}

	if raw := fields["meta"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Meta); err != nil {
			return nil, fmt.Errorf("readJob: decode meta: %w", err)
		}
	}
	if raw := fields["fire_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("readJob: parse fire_at: %w", err)
		}
		job.FireAt = time.UnixMilli(ms).UTC()
	}
	if raw := fields["stalled"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("readJob: parse stalled: %w", err)
		}
		job.StalledCount = n
	}
	job.MaxAttempts = s.opts.Retry.MaxAttempts

	return job, nil
}
