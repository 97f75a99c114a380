package repository

import (
	"context"

	"github.com/google/uuid"

	"classpulse-backend/internal/models"
)

// TaskRepo reads the platform-owned tasks table.
type TaskRepo struct {
	db DB
}

func NewTaskRepo(db DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task := &models.Task{}
	query := `SELECT id, teacher_id, title, prompt, success_criteria, use_universal_expectations, created_at
		FROM tasks WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&task.ID, &task.TeacherID, &task.Title, &task.Prompt,
		&task.SuccessCriteria, &task.UseUniversalExpectations, &task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}
