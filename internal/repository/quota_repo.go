package repository

import (
	"context"

	"github.com/google/uuid"

	"classpulse-backend/internal/models"
)

type QuotaRepo struct {
	db DB
}

func NewQuotaRepo(db DB) *QuotaRepo {
	return &QuotaRepo{db: db}
}

func (r *QuotaRepo) Get(ctx context.Context, teacherID uuid.UUID) (*models.TeacherQuota, error) {
	quota := &models.TeacherQuota{}
	query := `SELECT teacher_id, used, reset_at FROM teacher_quotas WHERE teacher_id = $1`

	err := r.db.QueryRow(ctx, query, teacherID).Scan(
		&quota.TeacherID, &quota.Used, &quota.ResetAt,
	)
	if err != nil {
		return nil, err
	}
	return quota, nil
}

func (r *QuotaRepo) Upsert(ctx context.Context, quota *models.TeacherQuota) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO teacher_quotas (teacher_id, used, reset_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (teacher_id) DO UPDATE
		SET used = $2, reset_at = $3`,
		quota.TeacherID, quota.Used, quota.ResetAt,
	)
	return err
}

// Increment bumps the used counter unconditionally. Limit checks belong to
// the caller; this write never validates.
func (r *QuotaRepo) Increment(ctx context.Context, teacherID uuid.UUID, n int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO teacher_quotas (teacher_id, used, reset_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (teacher_id) DO UPDATE
		SET used = teacher_quotas.used + $2`,
		teacherID, n,
	)
	return err
}
