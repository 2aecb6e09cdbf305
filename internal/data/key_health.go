package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"GradeLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Health hash field names, shared with every worker process.
const (
	fieldSuccessCount        = "successCount"
	fieldFailureCount        = "failureCount"
	fieldRequestCount        = "requestCount"
	fieldTotalResponseTimeMs = "totalResponseTimeMs"
	fieldLastUsedAt          = "lastUsedAt"
	fieldThrottledUntil      = "throttledUntil"
)

const selectionLockKey = "gradekey:selection:lock"

// extendThrottleScript raises throttledUntil to ARGV[1] but never lowers it,
// so concurrent failure recorders cannot shorten an existing cooldown.
var extendThrottleScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'throttledUntil') or '0')
local new = tonumber(ARGV[1])
if new > cur then
	redis.call('HSET', KEYS[1], 'throttledUntil', new)
end
return 1
`)

// releaseLockScript deletes the lock only if the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// KeyHealthRepo implements biz.KeyHealthRepo on Redis.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type KeyHealthRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewKeyHealthRepo creates a new key health repository.
func NewKeyHealthRepo(rdb *redis.Client, logger log.Logger) *KeyHealthRepo {
	return &KeyHealthRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
	}
}

// InitKey creates a zeroed health hash only if the fields are absent.
// HSETNX per field keeps a second call a complete no-op.
func (r *KeyHealthRepo) InitKey(ctx context.Context, keyID string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := healthKey(keyID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, field := range []string{
			fieldSuccessCount,
			fieldFailureCount,
			fieldRequestCount,
			fieldTotalResponseTimeMs,
			fieldLastUsedAt,
			fieldThrottledUntil,
		} {
			pipe.HSetNX(ctx, key, field, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to init key health: %w", err)
	}
	return nil
}

// GetHealth reads one health hash, auto-initializing a missing record.
func (r *KeyHealthRepo) GetHealth(ctx context.Context, keyID string) (*biz.KeyHealth, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	fields, err := r.rdb.HGetAll(ctx, healthKey(keyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read key health: %w", err)
	}

	if len(fields) == 0 {
		if err := r.InitKey(ctx, keyID); err != nil {
			return nil, err
		}
	}

	return parseHealth(keyID, fields), nil
}

// GetAllHealth batch-reads health hashes with one pipeline round trip.
func (r *KeyHealthRepo) GetAllHealth(ctx context.Context, keyIDs []string) ([]*biz.KeyHealth, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	cmds := make([]*redis.MapStringStringCmd, len(keyIDs))
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range keyIDs {
			cmds[i] = pipe.HGetAll(ctx, healthKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to batch read key health: %w", err)
	}

	records := make([]*biz.KeyHealth, len(keyIDs))
	for i, id := range keyIDs {
		fields, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read health for key %s: %w", id, err)
		}
		if len(fields) == 0 {
			if err := r.InitKey(ctx, id); err != nil {
				return nil, err
			}
		}
		records[i] = parseHealth(id, fields)
	}
	return records, nil
}

// RecordSuccess atomically bumps the success-side counters and stamps
// lastUsedAt in one transaction.
func (r *KeyHealthRepo) RecordSuccess(ctx context.Context, keyID string, responseTimeMs, nowMs int64) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := healthKey(keyID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldSuccessCount, 1)
		pipe.HIncrBy(ctx, key, fieldRequestCount, 1)
		pipe.HIncrBy(ctx, key, fieldTotalResponseTimeMs, responseTimeMs)
		pipe.HSet(ctx, key, fieldLastUsedAt, nowMs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	return nil
}

// RecordFailure atomically bumps failureCount; a non-zero untilMs extends
// the throttle window (never shortens it).
func (r *KeyHealthRepo) RecordFailure(ctx context.Context, keyID string, untilMs int64) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := healthKey(keyID)
	if err := r.rdb.HIncrBy(ctx, key, fieldFailureCount, 1).Err(); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	if untilMs > 0 {
		return r.SetThrottle(ctx, keyID, untilMs)
	}
	return nil
}

// MarkUsed stamps lastUsedAt for a key handed out by selection.
func (r *KeyHealthRepo) MarkUsed(ctx context.Context, keyID string, nowMs int64) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.rdb.HSet(ctx, healthKey(keyID), fieldLastUsedAt, nowMs).Err(); err != nil {
		return fmt.Errorf("failed to mark key used: %w", err)
	}
	return nil
}

// SetThrottle extends throttledUntil via a server-side script so concurrent
// writers keep the field monotonic.
func (r *KeyHealthRepo) SetThrottle(ctx context.Context, keyID string, untilMs int64) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := extendThrottleScript.Run(ctx, r.rdb, []string{healthKey(keyID)}, untilMs).Err(); err != nil {
		return fmt.Errorf("failed to set throttle: %w", err)
	}
	return nil
}

// ClearThrottle zeroes throttledUntil.
func (r *KeyHealthRepo) ClearThrottle(ctx context.Context, keyID string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.rdb.HSet(ctx, healthKey(keyID), fieldThrottledUntil, 0).Err(); err != nil {
		return fmt.Errorf("failed to clear throttle: %w", err)
	}
	return nil
}

// ResetKey zeroes every field in one transaction.
func (r *KeyHealthRepo) ResetKey(ctx context.Context, keyID string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := healthKey(keyID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldSuccessCount, 0,
			fieldFailureCount, 0,
			fieldRequestCount, 0,
			fieldTotalResponseTimeMs, 0,
			fieldLastUsedAt, 0,
			fieldThrottledUntil, 0,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset key: %w", err)
	}
	return nil
}

// AcquireLock grabs the selection lock with SETNX and a TTL so a crashed
// holder self-expires.
func (r *KeyHealthRepo) AcquireLock(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	ok, err := r.rdb.SetNX(ctx, selectionLockKey, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire selection lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the selection lock only if the token still owns it.
func (r *KeyHealthRepo) ReleaseLock(ctx context.Context, token string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := releaseLockScript.Run(ctx, r.rdb, []string{selectionLockKey}, token).Err(); err != nil {
		return fmt.Errorf("failed to release selection lock: %w", err)
	}
	return nil
}

// healthKey generates the Redis key for one credential's health hash.
// Format: gradekey:{key_id}:health
func healthKey(keyID string) string {
	return fmt.Sprintf("gradekey:%s:health", keyID)
}

// parseHealth converts a raw hash into the biz record. Missing or malformed
// fields read as zero.
func parseHealth(keyID string, fields map[string]string) *biz.KeyHealth {
	get := func(field string) int64 {
		v, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return 0
		}
		return v
	}

	return &biz.KeyHealth{
		KeyID:               keyID,
		SuccessCount:        get(fieldSuccessCount),
		FailureCount:        get(fieldFailureCount),
		RequestCount:        get(fieldRequestCount),
		TotalResponseTimeMs: get(fieldTotalResponseTimeMs),
		LastUsedAt:          get(fieldLastUsedAt),
		ThrottledUntil:      get(fieldThrottledUntil),
	}
}
