package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"classpulse-backend/internal/events"
	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/store"
)

type TaskRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// EventPublisher fans domain events out to room subscribers. Calls never
// fail; they run after the authoritative live-store write.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event, rooms ...string)
}

// SessionService owns the student-facing lifecycle: joining, submitting,
// polling, and next-step selection, plus the teacher's roster operations.
type SessionService struct {
	live     *store.LiveStore
	tasks    TaskRepository
	jwt      *middleware.JWTAuth
	tokenTTL time.Duration
	detector AlignmentDetector
	events   EventPublisher
	mirror   *Mirror
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(
	live *store.LiveStore,
	tasks TaskRepository,
	jwt *middleware.JWTAuth,
	tokenTTL time.Duration,
	detector AlignmentDetector,
	eventPub EventPublisher,
	mirror *Mirror,
	validate *validator.Validate,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		live:     live,
		tasks:    tasks,
		jwt:      jwt,
		tokenTTL: tokenTTL,
		detector: detector,
		events:   eventPub,
		mirror:   mirror,
		validate: validate,
		logger:   logger,
		now:      time.Now,
	}
}

// Join lets a student enter the live session for a task, creating the
// session on first join. One live session per task: the task index key makes
// concurrent first joins converge on whichever session binds last.
func (s *SessionService) Join(ctx context.Context, req models.JoinRequest) (*models.JoinResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Fields: validationFields(err)}
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"task_id": "Must be a valid UUID"}}
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Task not found"}
		}
		return nil, err
	}

	session, err := s.findOrCreateSession(ctx, task)
	if err != nil {
		return nil, err
	}

	now := s.now()
	student := &models.Student{
		ID:          uuid.New(),
		SessionID:   session.ID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		JoinedAt:    now,
		Status:      models.StatusActive,
	}
	if err := s.live.SaveStudent(ctx, student); err != nil {
		return nil, storeErr(err)
	}

	session.TotalStudents++
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	token, err := s.jwt.MintStudentToken(student.ID, session.ID, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint student token: %w", err)
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventStudentJoined,
		Payload: models.StudentJoinedEvent{
			SessionID:     session.ID,
			StudentID:     student.ID,
			DisplayName:   student.DisplayName,
			TotalStudents: session.TotalStudents,
		},
	}, events.SessionRoom(session.ID), events.TeacherRoom(session.TeacherID))

	s.mirror.Session(ctx, session)
	s.mirror.Student(ctx, session, student)

	return &models.JoinResponse{
		Token:      token,
		SessionID:  session.ID,
		StudentID:  student.ID,
		TaskTitle:  task.Title,
		TaskPrompt: task.Prompt,
		Status:     student.Status,
	}, nil
}

func (s *SessionService) findOrCreateSession(ctx context.Context, task *models.Task) (*models.Session, error) {
	sessionID, ok, err := s.live.SessionIDForTask(ctx, task.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if ok {
		session, found, err := s.live.GetSession(ctx, sessionID)
		if err != nil {
			return nil, storeErr(err)
		}
		if found && session.IsLive {
			return session, nil
		}
		// Stale index: the session it points at is gone or closed.
		if err := s.live.UnbindTask(ctx, task.ID); err != nil {
			return nil, storeErr(err)
		}
	}

	session := &models.Session{
		ID:        uuid.New(),
		TaskID:    task.ID,
		TeacherID: task.TeacherID,
		IsLive:    true,
		StartedAt: s.now(),
	}
	if err := s.live.SaveSession(ctx, session); err != nil {
		return nil, storeErr(err)
	}
	if err := s.live.BindTask(ctx, task.ID, session.ID); err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info("live session created",
		zap.String("session_id", session.ID.String()),
		zap.String("task_id", task.ID.String()))
	return session, nil
}

// Submit records a new draft. Resubmission carries revision bookkeeping
// forward and always re-enters the pending feedback state.
func (s *SessionService) Submit(ctx context.Context, sessionID, studentID uuid.UUID, req models.SubmitRequest) (*models.StudentState, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Fields: validationFields(err)}
	}

	session, ok, err := s.live.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Session not found or expired"}
	}

	student, ok, err := s.live.GetStudent(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Student not found in this session"}
	}

	if !student.Status.CanSubmit() {
		return nil, &InvalidTransitionError{From: student.Status, To: models.StatusReadyForFeedback}
	}

	prev, hasPrev, err := s.live.GetSubmission(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}

	now := s.now()
	sub := &models.Submission{
		StudentID:          student.ID,
		SessionID:          session.ID,
		Content:            req.Content,
		SubmittedAt:        now,
		TimeElapsedSeconds: clampElapsed(req.TimeElapsedSeconds, student.JoinedAt, now),
		FeedbackStatus:     models.FeedbackPending,
	}
	if hasPrev {
		sub.RevisionCount = prev.RevisionCount + 1
		sub.PreviousContent = prev.Content
		sub.IsRevision = true
	}
	sub.ValidationWarnings = submissionWarnings(sub.Content, prev)

	s.detectAlignment(ctx, student, prev, sub)

	if err := s.live.SaveSubmission(ctx, sub); err != nil {
		return nil, storeErr(err)
	}

	student.Status = models.StatusReadyForFeedback
	if err := s.live.SaveStudent(ctx, student); err != nil {
		return nil, storeErr(err)
	}

	session.Submissions++
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventSubmissionReceived,
		Payload: models.SubmissionReceivedEvent{
			SessionID:     session.ID,
			StudentID:     student.ID,
			RevisionCount: sub.RevisionCount,
			IsRevision:    sub.IsRevision,
			SubmittedAt:   sub.SubmittedAt,
		},
	}, events.SessionTeacherRoom(session.ID), events.TeacherRoom(session.TeacherID))
	s.publishStatus(ctx, session, student)

	s.mirror.Session(ctx, session)
	s.mirror.Student(ctx, session, student)
	s.mirror.Submission(ctx, session, sub)

	return &models.StudentState{Student: student, Submission: sub.ForStudent()}, nil
}

// detectAlignment annotates a revision with the alignment verdict when the
// student had selected a next step from the previous feedback. Any miss
// (no selection, step gone after regeneration, detector error) just leaves
// the verdict off; it never blocks the submission.
func (s *SessionService) detectAlignment(ctx context.Context, student *models.Student, prev *models.Submission, sub *models.Submission) {
	if !sub.IsRevision || student.SelectedNextStepID == nil || prev == nil || prev.Feedback == nil {
		return
	}
	step, ok := prev.Feedback.FindNextStep(*student.SelectedNextStepID)
	if !ok {
		return
	}

	verdict, err := s.detector.Detect(ctx, prev.Content, sub.Content, step)
	if err != nil {
		s.logger.Warn("alignment detection failed",
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		return
	}
	sub.DetectionResult = &verdict
}

// GetSession is the teacher's pull view: the full roster with unredacted
// submissions, warnings and detection results.
func (s *SessionService) GetSession(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.SessionState, error) {
	session, ok, err := s.live.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Session not found or expired"}
	}
	if session.TeacherID != teacherID {
		return nil, &UnauthorizedError{Message: "Session belongs to another teacher"}
	}

	students, err := s.live.ListStudents(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	submissions, err := s.live.ListSubmissions(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}

	byStudent := make(map[uuid.UUID]*models.Submission, len(submissions))
	for _, sub := range submissions {
		byStudent[sub.StudentID] = sub
	}

	state := &models.SessionState{
		Session:  session,
		Students: make([]*models.StudentState, 0, len(students)),
	}
	for _, student := range students {
		state.Students = append(state.Students, &models.StudentState{
			Student:    student,
			Submission: byStudent[student.ID],
		})
	}
	return state, nil
}

// GetStudentState is the student's own pull view. Feedback is hidden until
// released, and teacher-only annotations never leave the building.
func (s *SessionService) GetStudentState(ctx context.Context, sessionID, studentID uuid.UUID) (*models.StudentState, error) {
	student, ok, err := s.live.GetStudent(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Session expired or student not found"}
	}

	state := &models.StudentState{Student: student}

	sub, ok, err := s.live.GetSubmission(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if ok {
		state.Submission = sub.ForStudent()
	}
	return state, nil
}

// SelectNextStep records which released next step the student committed to.
// The alignment detector reads it on the next submission.
func (s *SessionService) SelectNextStep(ctx context.Context, sessionID, studentID uuid.UUID, req models.SelectNextStepRequest) (*models.Student, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Fields: validationFields(err)}
	}
	stepID, err := uuid.Parse(req.NextStepID)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"next_step_id": "Must be a valid UUID"}}
	}

	session, ok, err := s.live.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Session not found or expired"}
	}

	student, ok, err := s.live.GetStudent(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Student not found in this session"}
	}

	sub, ok, err := s.live.GetSubmission(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok || sub.Feedback == nil || sub.FeedbackStatus != models.FeedbackReleased {
		return nil, &NotFoundError{Message: "No released feedback to select a step from"}
	}
	if _, found := sub.Feedback.FindNextStep(stepID); !found {
		return nil, &NotFoundError{Message: "Next step not found in your feedback"}
	}

	student.SelectedNextStepID = &stepID
	if err := s.live.SaveStudent(ctx, student); err != nil {
		return nil, storeErr(err)
	}
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventNextStepSelected,
		Payload: models.NextStepSelectedEvent{
			SessionID:  session.ID,
			StudentID:  student.ID,
			NextStepID: stepID,
		},
	}, events.SessionTeacherRoom(session.ID), events.TeacherRoom(session.TeacherID))

	s.mirror.Student(ctx, session, student)

	return student, nil
}

// RemoveStudent marks a student removed. Terminal, idempotent, and the
// submission stays: counters never decrease and persisted data keeps the row.
func (s *SessionService) RemoveStudent(ctx context.Context, teacherID, sessionID, studentID uuid.UUID) error {
	session, ok, err := s.live.GetSession(ctx, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return &NotFoundError{Message: "Session not found or expired"}
	}
	if session.TeacherID != teacherID {
		return &UnauthorizedError{Message: "Session belongs to another teacher"}
	}

	student, ok, err := s.live.GetStudent(ctx, sessionID, studentID)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return &NotFoundError{Message: "Student not found in this session"}
	}
	if student.Status == models.StatusRemoved {
		return nil
	}

	student.Status = models.StatusRemoved
	if err := s.live.SaveStudent(ctx, student); err != nil {
		return storeErr(err)
	}
	if err := s.live.Touch(ctx, session); err != nil {
		return storeErr(err)
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventStudentRemoved,
		Payload: models.StudentRemovedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
		},
	}, events.SessionRoom(session.ID), events.StudentRoom(student.ID), events.TeacherRoom(session.TeacherID))

	s.mirror.Student(ctx, session, student)

	return nil
}

func (s *SessionService) publishStatus(ctx context.Context, session *models.Session, student *models.Student) {
	s.events.Publish(ctx, models.Event{
		Type: models.EventStudentStatusChanged,
		Payload: models.StatusChangedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
			Status:    student.Status,
		},
	}, events.SessionRoom(session.ID), events.StudentRoom(student.ID))
}

// clampElapsed bounds the client-reported working time to something the
// server can believe: non-negative, and no more than wall time since join
// plus slack for clock drift. Absent reports fall back to wall time.
func clampElapsed(reported *int, joinedAt, now time.Time) int {
	wall := int(now.Sub(joinedAt).Seconds())
	if wall < 0 {
		wall = 0
	}
	if reported == nil {
		return wall
	}

	v := *reported
	if v < 0 {
		v = 0
	}
	if limit := wall + 300; v > limit {
		v = limit
	}
	return v
}

// submissionWarnings flags quality signals for the teacher. Order is stable:
// short, then structure, then unchanged.
func submissionWarnings(content string, prev *models.Submission) []string {
	var warnings []string

	words := len(strings.Fields(content))
	if words < 30 {
		warnings = append(warnings, "Submission is very short")
	}
	if words > 150 && !strings.Contains(content, "\n") {
		warnings = append(warnings, "Submission has no paragraph breaks")
	}
	if prev != nil && strings.TrimSpace(content) == strings.TrimSpace(prev.Content) {
		warnings = append(warnings, "Submission is unchanged from the previous draft")
	}
	return warnings
}
