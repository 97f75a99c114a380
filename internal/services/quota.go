package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"classpulse-backend/internal/models"
)

type TeacherRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Teacher, error)
}

type QuotaRepository interface {
	Get(ctx context.Context, teacherID uuid.UUID) (*models.TeacherQuota, error)
	Upsert(ctx context.Context, quota *models.TeacherQuota) error
	Increment(ctx context.Context, teacherID uuid.UUID, n int) error
}

type AuditRepository interface {
	Insert(ctx context.Context, audit *models.UsageAudit) error
}

// QuotaService meters feedback generations per teacher per calendar month.
// Check and Consume are separate calls, not one atomic operation, so
// concurrent batches can race past the limit by at most a batch width.
type QuotaService struct {
	teachers TeacherRepository
	quotas   QuotaRepository
	audits   AuditRepository
	limits   map[string]int
	logger   *zap.Logger
	now      func() time.Time
}

func NewQuotaService(teachers TeacherRepository, quotas QuotaRepository, audits AuditRepository, limits map[string]int, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		teachers: teachers,
		quotas:   quotas,
		audits:   audits,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// Check resolves the teacher's current standing, lazily resetting the
// counter on the first read in a new calendar month.
func (s *QuotaService) Check(ctx context.Context, teacherID uuid.UUID) (*models.QuotaStatus, error) {
	teacher, err := s.teachers.GetByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Teacher not found"}
		}
		return nil, err
	}

	limit := s.limitFor(teacher.Plan)

	quota, err := s.quotas.Get(ctx, teacherID)
	if errors.Is(err, pgx.ErrNoRows) {
		quota = &models.TeacherQuota{TeacherID: teacherID, Used: 0, ResetAt: s.now()}
		if err := s.quotas.Upsert(ctx, quota); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	now := s.now()
	if quota.ResetAt.Year() != now.Year() || quota.ResetAt.Month() != now.Month() {
		quota.Used = 0
		quota.ResetAt = now
		if err := s.quotas.Upsert(ctx, quota); err != nil {
			return nil, err
		}
	}

	remaining := limit - quota.Used
	if remaining < 0 {
		remaining = 0
	}

	return &models.QuotaStatus{
		Allowed:   remaining > 0,
		Used:      quota.Used,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// Consume records usage and appends the audit row. It never re-validates
// the limit; callers gate on Check first. A lost audit row is logged but
// does not fail the consume.
func (s *QuotaService) Consume(ctx context.Context, audit *models.UsageAudit) error {
	if err := s.quotas.Increment(ctx, audit.TeacherID, audit.Count); err != nil {
		return err
	}

	audit.ID = uuid.New()
	audit.CreatedAt = s.now()
	if err := s.audits.Insert(ctx, audit); err != nil {
		s.logger.Warn("failed to record usage audit",
			zap.String("teacher_id", audit.TeacherID.String()),
			zap.Error(err))
	}
	return nil
}

func (s *QuotaService) limitFor(plan string) int {
	if limit, ok := s.limits[plan]; ok {
		return limit
	}
	return s.limits["free"]
}
