package biz

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"time"

	"GradeLane/internal/conf"
	"GradeLane/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ErrNoAvailableKeys is returned by SelectBestKey when the candidate list is
// empty or every candidate is throttled.
var ErrNoAvailableKeys = errors.New("no available keys: all candidates are throttled or the pool is empty")

const (
	// defaultLockTTL bounds the selection lock so a crashed holder self-expires.
	defaultLockTTL = 3 * time.Second
	// lockRetries is how many times selection tries to grab the lock before
	// degrading to an unlocked random pick.
	lockRetries   = 3
	lockRetryBase = 50 * time.Millisecond

	// throttleBackoff is the uniform cooldown applied after a throttling
	// failure (rate_limit, overloaded, unavailable).
	throttleBackoff = 60 * time.Second
	// quotaBackoff is the extended cooldown applied when the provider's
	// message indicates the key's quota is exhausted, which does not recover
	// within the normal window.
	quotaBackoff = 4 * time.Hour

	// recencyWindow is how long the recency bonus takes to decay to zero.
	recencyWindow = time.Hour
)

// KeyHealth mirrors the per-credential hash in the shared health store.
// Timestamps are epoch millis, 0 meaning never/not set.
type KeyHealth struct {
	KeyID               string
	SuccessCount        int64
	FailureCount        int64
	RequestCount        int64
	TotalResponseTimeMs int64
	LastUsedAt          int64
	ThrottledUntil      int64
}

// KeyMetrics is the derived, never-stored view of one key's health.
type KeyMetrics struct {
	KeyID             string  `json:"keyId"`
	SuccessCount      int64   `json:"successCount"`
	FailureCount      int64   `json:"failureCount"`
	RequestCount      int64   `json:"requestCount"`
	SuccessRate       float64 `json:"successRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	IsThrottled       bool    `json:"isThrottled"`
	ThrottledUntil    int64   `json:"throttledUntil"`
	LastUsedAt        int64   `json:"lastUsedAt"`
	HealthScore       float64 `json:"healthScore"`
}

// SummaryStats aggregates metrics over a key pool.
type SummaryStats struct {
	TotalKeys      int     `json:"totalKeys"`
	TotalSuccesses int64   `json:"totalSuccesses"`
	TotalFailures  int64   `json:"totalFailures"`
	TotalCalls     int64   `json:"totalCalls"`
	AvgSuccessRate float64 `json:"avgSuccessRate"`
	ThrottledCount int     `json:"throttledCount"`
	AvailableCount int     `json:"availableCount"`
}

// KeyHealthRepo is the narrow shared health-store contract. All counter
// mutations are atomic at the store level; callers never do local
// read-modify-write on shared counters.
type KeyHealthRepo interface {
	// InitKey creates a zeroed record only if absent.
	InitKey(ctx context.Context, keyID string) error
	// GetHealth reads one record, auto-initializing if missing.
	GetHealth(ctx context.Context, keyID string) (*KeyHealth, error)
	// GetAllHealth batch-reads records, auto-initializing missing ones.
	GetAllHealth(ctx context.Context, keyIDs []string) ([]*KeyHealth, error)
	// RecordSuccess atomically bumps success/request counters, adds the
	// latency and stamps lastUsedAt.
	RecordSuccess(ctx context.Context, keyID string, responseTimeMs, nowMs int64) error
	// RecordFailure atomically bumps the failure counter and, when untilMs
	// is non-zero, extends throttledUntil (it never shortens it).
	RecordFailure(ctx context.Context, keyID string, untilMs int64) error
	// MarkUsed stamps lastUsedAt for a key handed out by selection.
	MarkUsed(ctx context.Context, keyID string, nowMs int64) error
	// SetThrottle extends throttledUntil to untilMs if later than current.
	SetThrottle(ctx context.Context, keyID string, untilMs int64) error
	// ClearThrottle zeroes throttledUntil.
	ClearThrottle(ctx context.Context, keyID string) error
	// ResetKey zeroes every field.
	ResetKey(ctx context.Context, keyID string) error
	// AcquireLock grabs the selection lock with a caller token.
	AcquireLock(ctx context.Context, token string, ttl time.Duration) (bool, error)
	// ReleaseLock releases the selection lock iff the token still owns it.
	ReleaseLock(ctx context.Context, token string) error
}

// KeyHealthUsecase tracks per-credential health and selects the best usable
// key from a candidate pool under concurrent callers.
type KeyHealthUsecase struct {
	repo    KeyHealthRepo
	lockTTL time.Duration
	now     func() time.Time
	log     *log.Helper
}

// NewKeyHealthUsecase creates the tracker usecase. A missing or zero lock
// TTL falls back to the default so the selection lock always self-expires.
func NewKeyHealthUsecase(c *conf.Grading, repo KeyHealthRepo, logger log.Logger) *KeyHealthUsecase {
	lockTTL := defaultLockTTL
	if c != nil && c.LockTtl.AsDuration() > 0 {
		lockTTL = c.LockTtl.AsDuration()
	}
	return &KeyHealthUsecase{
		repo:    repo,
		lockTTL: lockTTL,
		now:     time.Now,
		log:     log.NewHelper(logger),
	}
}

// InitializeKeys idempotently creates zeroed records for the whole pool.
func (uc *KeyHealthUsecase) InitializeKeys(ctx context.Context, keyIDs []string) error {
	for _, id := range keyIDs {
		if err := uc.repo.InitKey(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetKeyHealth returns one key's record, auto-initializing if missing.
func (uc *KeyHealthUsecase) GetKeyHealth(ctx context.Context, keyID string) (*KeyHealth, error) {
	return uc.repo.GetHealth(ctx, keyID)
}

// RecordSuccess registers one successful provider call.
func (uc *KeyHealthUsecase) RecordSuccess(ctx context.Context, keyID string, elapsed time.Duration) error {
	return uc.repo.RecordSuccess(ctx, keyID, elapsed.Milliseconds(), uc.now().UnixMilli())
}

// RecordFailure registers one failed provider call. Throttling-class errors
// put the key on cooldown; "other" never does.
func (uc *KeyHealthUsecase) RecordFailure(ctx context.Context, keyID string, errType provider.ErrorType, message string) error {
	var untilMs int64
	if errType.ShouldThrottle() {
		backoff := throttleBackoff
		if strings.Contains(strings.ToLower(message), "quota") {
			backoff = quotaBackoff
		}
		untilMs = uc.now().Add(backoff).UnixMilli()
		uc.log.WithContext(ctx).Warnf("key %s throttled for %s after %s error", keyID, backoff, errType)
	}
	return uc.repo.RecordFailure(ctx, keyID, untilMs)
}

// MarkThrottled puts a key on an explicit cooldown.
func (uc *KeyHealthUsecase) MarkThrottled(ctx context.Context, keyID string, d time.Duration) error {
	return uc.repo.SetThrottle(ctx, keyID, uc.now().Add(d).UnixMilli())
}

// ClearThrottle lifts a key's cooldown.
func (uc *KeyHealthUsecase) ClearThrottle(ctx context.Context, keyID string) error {
	return uc.repo.ClearThrottle(ctx, keyID)
}

// ResetKey zeroes all counters and clears the throttle.
func (uc *KeyHealthUsecase) ResetKey(ctx context.Context, keyID string) error {
	return uc.repo.ResetKey(ctx, keyID)
}

// SelectBestKey returns the healthiest non-throttled candidate. The
// read-score-pick sequence runs under a short-TTL advisory lock; if the lock
// cannot be acquired within a few retries, selection degrades to a random
// available candidate rather than blocking the worker. When the health store
// itself is unreachable, selection degrades further to a blind random pick
// over the candidate list so grading keeps running without it. The returned
// key is advisory, not a lease.
func (uc *KeyHealthUsecase) SelectBestKey(ctx context.Context, candidateIDs []string) (string, error) {
	if len(candidateIDs) == 0 {
		return "", ErrNoAvailableKeys
	}

	token := uuid.NewString()
	locked := false
	for attempt := 0; attempt < lockRetries; attempt++ {
		ok, err := uc.repo.AcquireLock(ctx, token, uc.lockTTL)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return uc.blindPick(ctx, candidateIDs, err)
		}
		if ok {
			locked = true
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryBase * time.Duration(attempt+1)):
		}
	}
	if locked {
		defer func() {
			if err := uc.repo.ReleaseLock(ctx, token); err != nil {
				uc.log.WithContext(ctx).Warnf("failed to release selection lock: %v", err)
			}
		}()
	}

	records, err := uc.repo.GetAllHealth(ctx, candidateIDs)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return uc.blindPick(ctx, candidateIDs, err)
	}

	nowMs := uc.now().UnixMilli()
	available := make([]*KeyMetrics, 0, len(records))
	for _, h := range records {
		m := uc.deriveMetrics(h, nowMs)
		if !m.IsThrottled {
			available = append(available, m)
		}
	}
	if len(available) == 0 {
		return "", ErrNoAvailableKeys
	}

	if !locked {
		// Contended path: an unlocked scored pick could pile every worker
		// onto the same key, so spread the load randomly instead.
		pick := available[rand.Intn(len(available))]
		uc.log.WithContext(ctx).Warnf("selection lock unavailable, random fallback to key %s", pick.KeyID)
		return uc.handOut(ctx, pick.KeyID, nowMs)
	}

	sort.Slice(available, func(i, j int) bool {
		if available[i].HealthScore != available[j].HealthScore {
			return available[i].HealthScore > available[j].HealthScore
		}
		return available[i].LastUsedAt > available[j].LastUsedAt
	})

	return uc.handOut(ctx, available[0].KeyID, nowMs)
}

// blindPick hands out a random candidate when the health store cannot be
// consulted at all. Throttle state is unknown on this path; a bad pick costs
// one provider attempt, which the retry budget absorbs.
func (uc *KeyHealthUsecase) blindPick(ctx context.Context, candidateIDs []string, cause error) (string, error) {
	pick := candidateIDs[rand.Intn(len(candidateIDs))]
	uc.log.WithContext(ctx).Warnf("key health store unavailable, blind fallback to key %s: %v", pick, cause)
	return pick, nil
}

func (uc *KeyHealthUsecase) handOut(ctx context.Context, keyID string, nowMs int64) (string, error) {
	if err := uc.repo.MarkUsed(ctx, keyID, nowMs); err != nil {
		uc.log.WithContext(ctx).Warnf("failed to stamp lastUsedAt for key %s: %v", keyID, err)
	}
	return keyID, nil
}

// GetAllMetrics batch-derives metrics for the given keys.
func (uc *KeyHealthUsecase) GetAllMetrics(ctx context.Context, keyIDs []string) ([]*KeyMetrics, error) {
	records, err := uc.repo.GetAllHealth(ctx, keyIDs)
	if err != nil {
		return nil, err
	}

	nowMs := uc.now().UnixMilli()
	metrics := make([]*KeyMetrics, 0, len(records))
	for _, h := range records {
		metrics = append(metrics, uc.deriveMetrics(h, nowMs))
	}
	return metrics, nil
}

// GetSummaryStats aggregates pool-level stats for monitoring.
func (uc *KeyHealthUsecase) GetSummaryStats(ctx context.Context, keyIDs []string) (*SummaryStats, error) {
	metrics, err := uc.GetAllMetrics(ctx, keyIDs)
	if err != nil {
		return nil, err
	}

	stats := &SummaryStats{TotalKeys: len(metrics)}
	for _, m := range metrics {
		stats.TotalSuccesses += m.SuccessCount
		stats.TotalFailures += m.FailureCount
		if m.IsThrottled {
			stats.ThrottledCount++
		} else {
			stats.AvailableCount++
		}
	}
	stats.TotalCalls = stats.TotalSuccesses + stats.TotalFailures

	// Optimistic default for a cold pool.
	stats.AvgSuccessRate = 1.0
	if stats.TotalCalls > 0 {
		stats.AvgSuccessRate = float64(stats.TotalSuccesses) / float64(stats.TotalCalls)
	}

	return stats, nil
}

// deriveMetrics computes the derived view of one record.
//
// healthScore = successRate×0.6 + throttleBonus×0.3 + recencyBonus×0.1,
// where successRate defaults to 1.0 with zero calls, throttleBonus is 0/1,
// and recencyBonus decays linearly to zero over an hour since last use.
func (uc *KeyHealthUsecase) deriveMetrics(h *KeyHealth, nowMs int64) *KeyMetrics {
	m := &KeyMetrics{
		KeyID:          h.KeyID,
		SuccessCount:   h.SuccessCount,
		FailureCount:   h.FailureCount,
		RequestCount:   h.RequestCount,
		ThrottledUntil: h.ThrottledUntil,
		LastUsedAt:     h.LastUsedAt,
		IsThrottled:    h.ThrottledUntil > nowMs,
	}

	m.SuccessRate = 1.0
	if calls := h.SuccessCount + h.FailureCount; calls > 0 {
		m.SuccessRate = float64(h.SuccessCount) / float64(calls)
	}

	if h.SuccessCount > 0 {
		m.AvgResponseTimeMs = float64(h.TotalResponseTimeMs) / float64(h.SuccessCount)
	}

	throttleBonus := 1.0
	if m.IsThrottled {
		throttleBonus = 0.0
	}

	recencyBonus := 0.0
	if h.LastUsedAt > 0 {
		elapsed := time.Duration(nowMs-h.LastUsedAt) * time.Millisecond
		if elapsed < recencyWindow {
			recencyBonus = 1.0 - float64(elapsed)/float64(recencyWindow)
		}
	}

	m.HealthScore = m.SuccessRate*0.6 + throttleBonus*0.3 + recencyBonus*0.1
	return m
}
