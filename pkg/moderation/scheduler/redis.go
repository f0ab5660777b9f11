package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-moderation/aegis/pkg/logging"
)

// Redis keys for the deferred-unit queue.
const (
	keyDeferred    = "moderation:deferred"    // sorted set scored by not-before time
	keyOutstanding = "moderation:outstanding" // dedup set of comment ids
	keyRetries     = "moderation:retries"     // hash of comment id -> attempt count
	keyDLQ         = "moderation:dlq"         // sorted set of exhausted units
)

const (
	redisPollInterval = time.Second
	redisClaimBatch   = 10
	redisMaxRetries   = 3
)

// RedisBackend is a Redis-backed deferred-unit queue. Units survive process
// restarts; a worker loop claims due units and hands them to the process
// function, retrying failed units with exponential backoff before parking
// them in a dead-letter set.
type RedisBackend struct {
	client  *redis.Client
	process ProcessFunc
	log     logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBackend creates a Redis backend delivering to process.
func NewRedisBackend(client *redis.Client, process ProcessFunc, log logging.Logger) *RedisBackend {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RedisBackend{
		client:  client,
		process: process,
		log:     log.With(logging.F("component", "redis_backend")),
	}
}

// Defer adds the comment to the deferred set unless a unit is already
// outstanding for it.
func (b *RedisBackend) Defer(ctx context.Context, commentID int64, notBefore time.Time) (bool, error) {
	member := strconv.FormatInt(commentID, 10)

	added, err := b.client.SAdd(ctx, keyOutstanding, member).Result()
	if err != nil {
		return false, fmt.Errorf("mark outstanding: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	err = b.client.ZAdd(ctx, keyDeferred, redis.Z{
		Score:  float64(notBefore.UnixNano()),
		Member: member,
	}).Err()
	if err != nil {
		// Roll back the dedup marker so the sweep or a later Defer can
		// still reach this comment.
		b.client.SRem(ctx, keyOutstanding, member)
		return false, fmt.Errorf("defer unit: %w", err)
	}
	return true, nil
}

// Complete clears the dedup marker and retry count for a comment.
func (b *RedisBackend) Complete(ctx context.Context, commentID int64) error {
	member := strconv.FormatInt(commentID, 10)
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, keyOutstanding, member)
	pipe.HDel(ctx, keyRetries, member)
	pipe.ZRem(ctx, keyDeferred, member)
	_, err := pipe.Exec(ctx)
	return err
}

// Start launches the worker loop claiming due units.
func (b *RedisBackend) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
}

// Close stops the worker loop.
func (b *RedisBackend) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return nil
}

func (b *RedisBackend) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(redisPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.claimDue(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("claiming deferred units failed", logging.Err(err))
			}
		}
	}
}

// claimDue pops due units and processes them sequentially.
func (b *RedisBackend) claimDue(ctx context.Context) error {
	now := time.Now().UnixNano()
	members, err := b.client.ZRangeByScore(ctx, keyDeferred, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: redisClaimBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("list due units: %w", err)
	}

	for _, member := range members {
		// ZRem is the claim: only the remover owns the unit, so concurrent
		// workers never process the same one.
		removed, err := b.client.ZRem(ctx, keyDeferred, member).Result()
		if err != nil || removed == 0 {
			continue
		}

		commentID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			b.client.SRem(ctx, keyOutstanding, member)
			continue
		}

		if err := b.process(ctx, commentID); err != nil {
			b.handleFailure(ctx, member, commentID, err)
			continue
		}
		if err := b.Complete(ctx, commentID); err != nil {
			b.log.Warn("completing unit failed", logging.CommentID(commentID), logging.Err(err))
		}
	}
	return nil
}

// handleFailure re-defers a failed unit with backoff, or parks it in the
// dead-letter set once retries are exhausted. The comment itself stays
// pending either way; the periodic sweep remains the ultimate safety net.
func (b *RedisBackend) handleFailure(ctx context.Context, member string, commentID int64, procErr error) {
	attempts, err := b.client.HIncrBy(ctx, keyRetries, member, 1).Result()
	if err != nil {
		b.log.Warn("recording retry failed", logging.CommentID(commentID), logging.Err(err))
		return
	}

	if attempts >= redisMaxRetries {
		pipe := b.client.TxPipeline()
		pipe.ZAdd(ctx, keyDLQ, redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: member,
		})
		pipe.SRem(ctx, keyOutstanding, member)
		pipe.HDel(ctx, keyRetries, member)
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Warn("moving unit to dead-letter set failed", logging.CommentID(commentID), logging.Err(err))
		}
		b.log.Warn("deferred unit exhausted retries",
			logging.CommentID(commentID),
			logging.F("attempts", int(attempts)),
			logging.Err(procErr))
		return
	}

	backoff := backoffFor(int(attempts))
	err = b.client.ZAdd(ctx, keyDeferred, redis.Z{
		Score:  float64(time.Now().Add(backoff).UnixNano()),
		Member: member,
	}).Err()
	if err != nil {
		b.log.Warn("re-deferring unit failed", logging.CommentID(commentID), logging.Err(err))
		return
	}
	b.log.Debug("deferred unit retried",
		logging.CommentID(commentID),
		logging.F("attempt", int(attempts)),
		logging.F("backoff", backoff))
}

// backoffFor calculates exponential backoff: 2s, 4s, 8s, capped at 5m.
func backoffFor(attempt int) time.Duration {
	backoff := time.Second * (1 << uint(attempt))
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

// DeadLetterCount returns how many units sit in the dead-letter set.
func (b *RedisBackend) DeadLetterCount(ctx context.Context) (int64, error) {
	return b.client.ZCard(ctx, keyDLQ).Result()
}

var _ Backend = (*RedisBackend)(nil)
