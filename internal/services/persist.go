package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classpulse-backend/internal/events"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/store"
)

// PersistService bridges the expiring live store into Postgres. Persist is
// strictly snapshot-then-write: the roster and submissions are read out in
// full before the first durable row goes out.
type PersistService struct {
	live      *store.LiveStore
	snapshots SnapshotRepository
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPersistService(live *store.LiveStore, snapshots SnapshotRepository, events EventPublisher, logger *zap.Logger) *PersistService {
	return &PersistService{
		live:      live,
		snapshots: snapshots,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *PersistService) Persist(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.PersistResult, error) {
	session, ok, err := s.live.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if session.TeacherID != teacherID {
		return nil, &UnauthorizedError{Message: "Session belongs to another teacher"}
	}
	if !session.IsLive {
		return nil, &SessionNotLiveError{Message: "Session is not live"}
	}
	if s.now().After(session.DataExpiresAt) {
		return nil, &SessionExpiredError{Message: "Session data has expired"}
	}

	if session.DataPersisted {
		// Informational no-op: nothing was written on this call.
		return &models.PersistResult{SessionID: session.ID, AlreadyPersisted: true}, nil
	}

	students, err := s.live.ListStudents(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	submissions, err := s.live.ListSubmissions(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}

	snap := &models.SessionSnapshot{
		Session:     session,
		Students:    students,
		Submissions: submissions,
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}

	// Flag the live record so later mutations start mirroring. If this write
	// fails the durable rows are already safe; a retry converges through the
	// same upserts.
	session.DataPersisted = true
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info("session persisted",
		zap.String("session_id", session.ID.String()),
		zap.Int("students", len(students)),
		zap.Int("submissions", len(submissions)))

	s.events.Publish(ctx, models.Event{
		Type: models.EventSessionPersisted,
		Payload: models.SessionPersistedEvent{
			SessionID:   session.ID,
			Students:    len(students),
			Submissions: len(submissions),
		},
	}, events.SessionTeacherRoom(session.ID), events.TeacherRoom(session.TeacherID))

	return &models.PersistResult{
		SessionID:   session.ID,
		Students:    len(students),
		Submissions: len(submissions),
	}, nil
}
