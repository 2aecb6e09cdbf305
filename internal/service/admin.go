package service

import (
	"context"
	"strings"
	"time"

	"GradeLane/internal/biz"
	"GradeLane/pkg/provider"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// AdminService exposes the operational surface: key pool inspection and
// control, system metrics, alert history and manual grading triggers.
type AdminService struct {
	grading *biz.GradingUsecase
	keys    *biz.KeyHealthUsecase
	keyring *biz.Keyring
	monitor *biz.MonitorUsecase
	logger  *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	grading *biz.GradingUsecase,
	keys *biz.KeyHealthUsecase,
	keyring *biz.Keyring,
	monitor *biz.MonitorUsecase,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		grading: grading,
		keys:    keys,
		keyring: keyring,
		monitor: monitor,
		logger:  log.NewHelper(logger),
	}
}

// KeyMetricsReply lists per-key metrics for one provider pool.
type KeyMetricsReply struct {
	Provider string            `json:"provider"`
	Keys     []*biz.KeyMetrics `json:"keys"`
}

// KeySummaryReply wraps the pool aggregate.
type KeySummaryReply struct {
	Provider string            `json:"provider"`
	Summary  *biz.SummaryStats `json:"summary"`
}

// ThrottleRequest marks one key as throttled for a given number of seconds.
type ThrottleRequest struct {
	Seconds int64 `json:"seconds"`
}

// OpReply is the generic acknowledgement for key control operations.
type OpReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GradeRequest triggers processing of one uploaded grading result.
type GradeRequest struct {
	ResultID  string `json:"resultId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// RequeueReply reports how many stuck tasks were sent back to the queue.
type RequeueReply struct {
	Requeued int `json:"requeued"`
}

// ListKeyMetrics returns derived per-key metrics for one provider pool.
func (s *AdminService) ListKeyMetrics(ctx context.Context, providerName string) (*KeyMetricsReply, error) {
	providerName = s.normalizeProvider(providerName)

	ids := s.keyring.CandidateIDs(providerName)
	if len(ids) == 0 {
		return nil, kerrors.NotFound("PROVIDER_NOT_CONFIGURED", "no keys configured for provider "+providerName)
	}

	metrics, err := s.keys.GetAllMetrics(ctx, ids)
	if err != nil {
		s.logger.Errorw("msg", "failed to load key metrics", "provider", providerName, "error", err)
		return nil, err
	}

	return &KeyMetricsReply{Provider: providerName, Keys: metrics}, nil
}

// KeySummary returns the pool aggregate for one provider.
func (s *AdminService) KeySummary(ctx context.Context, providerName string) (*KeySummaryReply, error) {
	providerName = s.normalizeProvider(providerName)

	ids := s.keyring.CandidateIDs(providerName)
	if len(ids) == 0 {
		return nil, kerrors.NotFound("PROVIDER_NOT_CONFIGURED", "no keys configured for provider "+providerName)
	}

	summary, err := s.keys.GetSummaryStats(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &KeySummaryReply{Provider: providerName, Summary: summary}, nil
}

// ResetKey zeroes every counter of one key.
func (s *AdminService) ResetKey(ctx context.Context, keyID string) (*OpReply, error) {
	if err := s.checkKeyID(keyID); err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "ResetKey called", "key_id", keyID)

	if err := s.keys.ResetKey(ctx, keyID); err != nil {
		s.logger.Errorw("msg", "failed to reset key", "key_id", keyID, "error", err)
		return nil, err
	}
	return &OpReply{Success: true, Message: "key statistics reset"}, nil
}

// ClearThrottle lifts an active cooldown so the key is selectable again.
func (s *AdminService) ClearThrottle(ctx context.Context, keyID string) (*OpReply, error) {
	if err := s.checkKeyID(keyID); err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "ClearThrottle called", "key_id", keyID)

	if err := s.keys.ClearThrottle(ctx, keyID); err != nil {
		s.logger.Errorw("msg", "failed to clear throttle", "key_id", keyID, "error", err)
		return nil, err
	}
	return &OpReply{Success: true, Message: "throttle cleared"}, nil
}

// MarkThrottled pulls one key out of rotation for the requested window.
func (s *AdminService) MarkThrottled(ctx context.Context, keyID string, req *ThrottleRequest) (*OpReply, error) {
	if err := s.checkKeyID(keyID); err != nil {
		return nil, err
	}
	if req == nil || req.Seconds <= 0 {
		return nil, kerrors.BadRequest("INVALID_DURATION", "seconds must be positive")
	}
	s.logger.Infow("msg", "MarkThrottled called", "key_id", keyID, "seconds", req.Seconds)

	if err := s.keys.MarkThrottled(ctx, keyID, time.Duration(req.Seconds)*time.Second); err != nil {
		s.logger.Errorw("msg", "failed to mark key throttled", "key_id", keyID, "error", err)
		return nil, err
	}
	return &OpReply{Success: true, Message: "key throttled"}, nil
}

// SystemMetrics returns the latest sampled snapshot, taking a fresh sample
// when none has been persisted yet.
func (s *AdminService) SystemMetrics(ctx context.Context) (*biz.MetricsSnapshot, error) {
	snap, err := s.monitor.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return s.monitor.CollectMetrics(ctx)
	}
	return snap, nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *AdminService) RecentAlerts(ctx context.Context, limit int) ([]*biz.Alert, error) {
	return s.monitor.RecentAlerts(ctx, limit)
}

// Grade runs the grading pipeline for one uploaded result. The call is
// synchronous; clients follow live progress over the websocket feed.
func (s *AdminService) Grade(ctx context.Context, req *GradeRequest) (*OpReply, error) {
	if req == nil || req.ResultID == "" {
		return nil, kerrors.BadRequest("MISSING_RESULT_ID", "resultId is required")
	}
	s.logger.Infow("msg", "Grade called", "result_id", req.ResultID, "user_id", req.UserID)

	if err := s.grading.ProcessGradingResult(ctx, req.ResultID, req.UserID, req.SessionID); err != nil {
		s.logger.Errorw("msg", "grading failed", "result_id", req.ResultID, "error", err)
		return nil, err
	}
	return &OpReply{Success: true, Message: "grading completed"}, nil
}

// RequeueStale sends tasks stuck in PROCESSING back to PENDING.
func (s *AdminService) RequeueStale(ctx context.Context) (*RequeueReply, error) {
	n, err := s.monitor.RequeueStaleTasks(ctx)
	if err != nil {
		return nil, err
	}
	return &RequeueReply{Requeued: n}, nil
}

func (s *AdminService) normalizeProvider(name string) string {
	if name == "" {
		return provider.NameGemini
	}
	return strings.ToLower(name)
}

// checkKeyID verifies the key belongs to a configured pool before touching
// its health state. Key IDs are "<provider>-<n>".
func (s *AdminService) checkKeyID(keyID string) error {
	idx := strings.LastIndex(keyID, "-")
	if idx <= 0 {
		return kerrors.BadRequest("INVALID_KEY_ID", "key id must look like gemini-1")
	}
	if _, err := s.keyring.Secret(keyID[:idx], keyID); err != nil {
		return kerrors.NotFound("KEY_NOT_FOUND", err.Error())
	}
	return nil
}
