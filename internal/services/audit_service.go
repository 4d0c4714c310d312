package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/pkg/metrics"
)

// DecisionStats aggregates decisions over a time window for monitoring consumers.
type DecisionStats struct {
	AllowCount   int64   `json:"allow_count"`
	DenyCount    int64   `json:"deny_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

const defaultAuditQueueSize = 1024

// AuditService persists policy decisions asynchronously. Record is fire-and-forget:
// it never blocks the evaluation hot path and a persistence fault never changes a
// decision already returned to the caller. Rows are immutable after insert.
type AuditService struct {
	db  *gorm.DB
	log *zap.Logger

	queue chan models.PolicyDecisionAudit
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAuditService constructs the audit pipeline and starts its writer goroutine.
func NewAuditService(db *gorm.DB, queueSize int, log *zap.Logger) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}

	s := &AuditService{
		db:    db,
		log:   log,
		queue: make(chan models.PolicyDecisionAudit, queueSize),
	}

	s.wg.Add(1)
	go s.writer()

	return s, nil
}

// Record enqueues one audit row for the decision. When the queue is full the record
// is dropped and counted; dropping is preferable to stalling the request path.
func (s *AuditService) Record(evalCtx *policy.Context, decision policy.Decision, latency time.Duration) {
	if evalCtx == nil {
		return
	}

	row := models.PolicyDecisionAudit{
		UserID:        evalCtx.UserID,
		CompanyID:     evalCtx.CompanyID,
		CompanyType:   evalCtx.CompanyType,
		Endpoint:      evalCtx.Endpoint,
		HTTPMethod:    evalCtx.HTTPMethod,
		Operation:     evalCtx.Operation,
		Scope:         evalCtx.Scope,
		Decision:      string(decision.Effect),
		Reason:        decision.Reason,
		PolicyVersion: decision.PolicyVersion,
		RequestIP:     evalCtx.RequestIP,
		RequestID:     evalCtx.RequestID,
		CorrelationID: evalCtx.CorrelationID,
		LatencyMs:     latency.Milliseconds(),
	}

	select {
	case s.queue <- row:
	default:
		metrics.AuditRecords.WithLabelValues("dropped").Inc()
		s.log.Warn("audit queue full, dropping decision record",
			zap.String("correlation_id", evalCtx.CorrelationID),
			zap.String("reason", decision.Reason),
		)
	}
}

func (s *AuditService) writer() {
	defer s.wg.Done()

	for row := range s.queue {
		if err := s.db.Create(&row).Error; err != nil {
			metrics.AuditRecords.WithLabelValues("failed").Inc()
			s.log.Error("audit write failed",
				zap.String("correlation_id", row.CorrelationID),
				zap.Error(err),
			)
			continue
		}
		metrics.AuditRecords.WithLabelValues("written").Inc()
	}
}

// Close drains the queue and stops the writer. Pending records are flushed.
func (s *AuditService) Close() {
	s.once.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

// RecentForUser returns a user's most recent decisions, newest first.
func (s *AuditService) RecentForUser(ctx context.Context, userID string, limit int) ([]models.PolicyDecisionAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []models.PolicyDecisionAudit
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit service: recent for user: %w", err)
	}
	return rows, nil
}

// DeniedBetween returns DENY decisions inside the window, newest first.
func (s *AuditService) DeniedBetween(ctx context.Context, since, until time.Time) ([]models.PolicyDecisionAudit, error) {
	var rows []models.PolicyDecisionAudit
	if err := s.db.WithContext(ctx).
		Where("decision = ? AND created_at >= ? AND created_at <= ?", string(policy.EffectDeny), since, until).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit service: denied between: %w", err)
	}
	return rows, nil
}

// Stats aggregates allow/deny counts and average latency over the window.
func (s *AuditService) Stats(ctx context.Context, since, until time.Time) (DecisionStats, error) {
	type bucket struct {
		Decision   string
		Count      int64
		AvgLatency float64
	}

	var buckets []bucket
	if err := s.db.WithContext(ctx).
		Model(&models.PolicyDecisionAudit{}).
		Select("decision, COUNT(*) AS count, AVG(latency_ms) AS avg_latency").
		Where("created_at >= ? AND created_at <= ?", since, until).
		Group("decision").
		Scan(&buckets).Error; err != nil {
		return DecisionStats{}, fmt.Errorf("audit service: stats: %w", err)
	}

	var stats DecisionStats
	var total int64
	var weighted float64
	for _, b := range buckets {
		switch b.Decision {
		case string(policy.EffectAllow):
			stats.AllowCount = b.Count
		case string(policy.EffectDeny):
			stats.DenyCount = b.Count
		}
		total += b.Count
		weighted += b.AvgLatency * float64(b.Count)
	}
	if total > 0 {
		stats.AvgLatencyMs = weighted / float64(total)
	}
	return stats, nil
}
