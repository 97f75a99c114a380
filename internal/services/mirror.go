package services

import (
	"context"

	"go.uber.org/zap"

	"classpulse-backend/internal/models"
)

// SnapshotRepository is the durable side of the persistence bridge. Every
// write is an upsert keyed on stable ids.
type SnapshotRepository interface {
	Save(ctx context.Context, snap *models.SessionSnapshot) error
	UpsertSession(ctx context.Context, session *models.Session) error
	UpsertStudent(ctx context.Context, student *models.Student) error
	UpsertSubmission(ctx context.Context, sub *models.Submission) error
}

// Mirror keeps durable rows in step with live mutations once a session has
// been persisted. Before that point every call is a no-op. Failures are
// logged and swallowed: the expiring-store write defines operation success,
// and the teacher can always re-run persist.
type Mirror struct {
	snapshots SnapshotRepository
	logger    *zap.Logger
}

func NewMirror(snapshots SnapshotRepository, logger *zap.Logger) *Mirror {
	return &Mirror{snapshots: snapshots, logger: logger}
}

func (m *Mirror) Session(ctx context.Context, session *models.Session) {
	if !session.DataPersisted {
		return
	}
	if err := m.snapshots.UpsertSession(ctx, session); err != nil {
		m.logger.Warn("mirror write failed",
			zap.String("entity", "session"),
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}

func (m *Mirror) Student(ctx context.Context, session *models.Session, student *models.Student) {
	if !session.DataPersisted {
		return
	}
	if err := m.snapshots.UpsertStudent(ctx, student); err != nil {
		m.logger.Warn("mirror write failed",
			zap.String("entity", "student"),
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
	}
}

func (m *Mirror) Submission(ctx context.Context, session *models.Session, sub *models.Submission) {
	if !session.DataPersisted {
		return
	}
	if err := m.snapshots.UpsertSubmission(ctx, sub); err != nil {
		m.logger.Warn("mirror write failed",
			zap.String("entity", "submission"),
			zap.String("student_id", sub.StudentID.String()),
			zap.Error(err))
	}
}
