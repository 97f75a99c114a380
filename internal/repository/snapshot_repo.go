package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"classpulse-backend/internal/models"
)

// SnapshotRepo writes live session data into the relational tables. All
// writes are upserts keyed on stable ids, so persisting the same session
// twice converges on the latest live state instead of duplicating rows.
type SnapshotRepo struct {
	db DB
}

func NewSnapshotRepo(db DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Save writes the whole snapshot in a single transaction.
func (r *SnapshotRepo) Save(ctx context.Context, snap *models.SessionSnapshot) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin persist transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertSession(ctx, tx, snap.Session); err != nil {
		return err
	}
	for _, student := range snap.Students {
		if err := upsertStudent(ctx, tx, student); err != nil {
			return err
		}
	}
	for _, sub := range snap.Submissions {
		if err := upsertSubmission(ctx, tx, sub); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpsertSession mirrors a single session row outside a transaction.
func (r *SnapshotRepo) UpsertSession(ctx context.Context, session *models.Session) error {
	return upsertSession(ctx, r.db, session)
}

// UpsertStudent mirrors a single student row outside a transaction.
func (r *SnapshotRepo) UpsertStudent(ctx context.Context, student *models.Student) error {
	return upsertStudent(ctx, r.db, student)
}

// UpsertSubmission mirrors a submission row, including its feedback if one
// has been generated.
func (r *SnapshotRepo) UpsertSubmission(ctx context.Context, sub *models.Submission) error {
	return upsertSubmission(ctx, r.db, sub)
}

func upsertSession(ctx context.Context, ex execer, s *models.Session) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO sessions (id, task_id, teacher_id, started_at, persisted_at, total_students, submissions, feedbacks_generated, feedback_sent)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET persisted_at = NOW(), total_students = $5, submissions = $6,
		    feedbacks_generated = $7, feedback_sent = $8`,
		s.ID, s.TaskID, s.TeacherID, s.StartedAt,
		s.TotalStudents, s.Submissions, s.FeedbacksGenerated, s.FeedbackSent,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", s.ID, err)
	}
	return nil
}

func upsertStudent(ctx context.Context, ex execer, st *models.Student) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO students (id, session_id, display_name, joined_at, status, selected_next_step_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET display_name = $3, status = $5, selected_next_step_id = $6`,
		st.ID, st.SessionID, st.DisplayName, st.JoinedAt, st.Status, st.SelectedNextStepID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert student %s: %w", st.ID, err)
	}
	return nil
}

func upsertSubmission(ctx context.Context, ex execer, sub *models.Submission) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO submissions (session_id, student_id, content, submitted_at, time_elapsed_seconds, revision_count, previous_content, feedback_status, validation_warnings, is_revision, detection_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET content = $3, submitted_at = $4, time_elapsed_seconds = $5,
		    revision_count = $6, previous_content = $7, feedback_status = $8,
		    validation_warnings = $9, is_revision = $10, detection_result = $11`,
		sub.SessionID, sub.StudentID, sub.Content, sub.SubmittedAt, sub.TimeElapsedSeconds,
		sub.RevisionCount, sub.PreviousContent, sub.FeedbackStatus,
		sub.ValidationWarnings, sub.IsRevision, sub.DetectionResult,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert submission for student %s: %w", sub.StudentID, err)
	}

	if sub.Feedback == nil {
		return nil
	}
	return upsertFeedback(ctx, ex, sub)
}

func upsertFeedback(ctx context.Context, ex execer, sub *models.Submission) error {
	fb := sub.Feedback

	strengths, err := json.Marshal(fb.Strengths)
	if err != nil {
		return fmt.Errorf("failed to marshal strengths: %w", err)
	}
	growthAreas, err := json.Marshal(fb.GrowthAreas)
	if err != nil {
		return fmt.Errorf("failed to marshal growth areas: %w", err)
	}
	nextSteps, err := json.Marshal(fb.NextSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal next steps: %w", err)
	}

	// One feedback per student per session. Regeneration mints a fresh
	// feedback id, so the conflict target is the student, not the id.
	_, err = ex.Exec(ctx, `
		INSERT INTO feedbacks (id, session_id, student_id, goal, mastery_achieved, strengths, growth_areas, next_steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET id = $1, goal = $4, mastery_achieved = $5,
		    strengths = $6, growth_areas = $7, next_steps = $8`,
		fb.ID, sub.SessionID, sub.StudentID, fb.Goal, fb.MasteryAchieved,
		strengths, growthAreas, nextSteps,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feedback for student %s: %w", sub.StudentID, err)
	}
	return nil
}
