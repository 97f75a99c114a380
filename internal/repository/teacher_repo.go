package repository

import (
	"context"

	"github.com/google/uuid"

	"classpulse-backend/internal/models"
)

// TeacherRepo reads the platform-owned teachers table. Account management
// happens elsewhere; this backend only needs identity and plan.
type TeacherRepo struct {
	db DB
}

func NewTeacherRepo(db DB) *TeacherRepo {
	return &TeacherRepo{db: db}
}

func (r *TeacherRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Teacher, error) {
	teacher := &models.Teacher{}
	query := `SELECT id, email, full_name, plan FROM teachers WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&teacher.ID, &teacher.Email, &teacher.FullName, &teacher.Plan,
	)
	if err != nil {
		return nil, err
	}
	return teacher, nil
}
