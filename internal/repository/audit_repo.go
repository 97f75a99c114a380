package repository

import (
	"context"

	"classpulse-backend/internal/models"
)

type AuditRepo struct {
	db DB
}

func NewAuditRepo(db DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, audit *models.UsageAudit) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_audits (id, teacher_id, task_id, session_id, operation, count, model, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.TeacherID, audit.TaskID, audit.SessionID,
		audit.Operation, audit.Count, audit.Model, audit.Warnings, audit.CreatedAt,
	)
	return err
}
