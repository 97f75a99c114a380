package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"classpulse-backend/internal/events"
	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/store"
)

// QuotaGuard is the slice of QuotaService the orchestrator needs.
type QuotaGuard interface {
	Check(ctx context.Context, teacherID uuid.UUID) (*models.QuotaStatus, error)
	Consume(ctx context.Context, audit *models.UsageAudit) error
}

// FeedbackService orchestrates generation batches and the release flow.
// Batch items are sequential and isolated: one student's failure never
// touches another's state, and the batch endpoint always answers 200 with a
// per-item breakdown.
type FeedbackService struct {
	live       *store.LiveStore
	tasks      TaskRepository
	quota      QuotaGuard
	generator  Generator
	events     EventPublisher
	mirror     *Mirror
	metrics    *metrics.Metrics
	validate   *validator.Validate
	logger     *zap.Logger
	genTimeout time.Duration
	now        func() time.Time
}

func NewFeedbackService(
	live *store.LiveStore,
	tasks TaskRepository,
	quota QuotaGuard,
	generator Generator,
	eventPub EventPublisher,
	mirror *Mirror,
	m *metrics.Metrics,
	validate *validator.Validate,
	genTimeout time.Duration,
	logger *zap.Logger,
) *FeedbackService {
	return &FeedbackService{
		live:       live,
		tasks:      tasks,
		quota:      quota,
		generator:  generator,
		events:     eventPub,
		mirror:     mirror,
		metrics:    m,
		validate:   validate,
		genTimeout: genTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// GenerateBatch runs feedback generation for the requested students, or for
// every ready_for_feedback student when no ids are given. The quota gate
// runs once, up front, against the whole batch width; after that no quota
// check happens again, so concurrent batches can race past the limit by at
// most a batch width.
func (s *FeedbackService) GenerateBatch(ctx context.Context, teacherID, sessionID uuid.UUID, req models.GenerateBatchRequest) (*models.BatchResult, error) {
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
	if session.TeacherID != teacherID {
		return nil, &UnauthorizedError{Message: "Session belongs to another teacher"}
	}

	task, err := s.tasks.GetByID(ctx, session.TaskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Task not found"}
		}
		return nil, err
	}
	criteria := task.Criteria()

	students, err := s.live.ListStudents(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	roster := make(map[uuid.UUID]*models.Student, len(students))
	for _, st := range students {
		roster[st.ID] = st
	}

	var targets []uuid.UUID
	if len(req.StudentIDs) > 0 {
		for _, raw := range req.StudentIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, &ValidationError{Fields: map[string]string{"student_ids": "Must be valid UUIDs"}}
			}
			targets = append(targets, id)
		}
	} else {
		for _, st := range students {
			if st.Status.CanStartGeneration() {
				targets = append(targets, st.ID)
			}
		}
	}

	result := &models.BatchResult{Items: []models.BatchItem{}}
	if len(targets) == 0 {
		return result, nil
	}

	status, err := s.quota.Check(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if status.Remaining < len(targets) {
		return nil, &InsufficientQuotaError{Required: len(targets), Remaining: status.Remaining}
	}

	for _, studentID := range targets {
		item := s.generateOne(ctx, session, task, criteria, roster[studentID], studentID)
		if item.Status == models.BatchStatusGenerated {
			result.Generated++
		} else {
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// generateOne runs the full per-student pipeline. Failure after entering
// generating reverts the status best-effort, with one exception: a missing
// submission leaves the student parked in generating as a visible data
// integrity report for the teacher.
func (s *FeedbackService) generateOne(ctx context.Context, session *models.Session, task *models.Task, criteria []string, student *models.Student, studentID uuid.UUID) models.BatchItem {
	if student == nil {
		return models.BatchItem{
			StudentID: studentID,
			Status:    models.BatchStatusFailed,
			Code:      models.BatchCodeStudentNotFound,
			Reason:    "Student is not in this session",
		}
	}

	item := models.BatchItem{StudentID: student.ID, DisplayName: student.DisplayName}

	if !student.Status.CanStartGeneration() {
		item.Status = models.BatchStatusFailed
		item.Code = models.BatchCodeInvalidStatus
		item.Reason = fmt.Sprintf("Student is %s, not %s", student.Status, models.StatusReadyForFeedback)
		return item
	}

	student.Status = models.StatusGenerating
	if err := s.live.SaveStudent(ctx, student); err != nil {
		s.logger.Error("failed to enter generating",
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		item.Status = models.BatchStatusFailed
		item.Code = models.BatchCodeStoreWriteFailed
		item.Reason = "Could not update student status"
		return item
	}
	s.publishStatus(ctx, session, student)

	sub, ok, err := s.live.GetSubmission(ctx, session.ID, student.ID)
	if err != nil {
		s.revertGenerating(ctx, session, student)
		return s.fail(ctx, session, item, models.BatchCodeStoreWriteFailed, "Could not read the submission")
	}
	if !ok {
		// No revert here: the student claimed ready_for_feedback with no
		// submission on record, and the stuck generating badge is the
		// teacher's cue that the data is inconsistent.
		return s.fail(ctx, session, item, models.BatchCodeNoSubmission, "Student has no submission on record")
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	start := s.now()
	feedback, err := s.generator.Generate(genCtx, GenerateInput{
		TaskTitle:       task.Title,
		TaskPrompt:      task.Prompt,
		Criteria:        criteria,
		Content:         sub.Content,
		IsRevision:      sub.IsRevision,
		PreviousContent: sub.PreviousContent,
	})
	elapsed := s.now().Sub(start)

	if err != nil {
		outcome := metrics.OutcomeError
		reason := "Feedback generation failed"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
			reason = fmt.Sprintf("Generation timed out after %ds", int(s.genTimeout.Seconds()))
		}
		s.metrics.ObserveGeneration(outcome, elapsed)
		s.logger.Error("feedback generation failed",
			zap.String("student_id", student.ID.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))

		s.revertGenerating(ctx, session, student)
		return s.fail(ctx, session, item, models.BatchCodeGenerationFailed, reason)
	}
	s.metrics.ObserveGeneration(metrics.OutcomeOK, elapsed)

	sub.Feedback = feedback
	sub.FeedbackStatus = models.FeedbackGenerated
	if err := s.live.SaveSubmission(ctx, sub); err != nil {
		s.logger.Error("failed to attach feedback",
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		s.revertGenerating(ctx, session, student)
		return s.fail(ctx, session, item, models.BatchCodeStoreWriteFailed, "Could not save the generated feedback")
	}

	student.Status = models.StatusSubmitted
	if err := s.live.SaveStudent(ctx, student); err != nil {
		s.logger.Error("failed to leave generating",
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		return s.fail(ctx, session, item, models.BatchCodeStoreWriteFailed, "Could not update student status")
	}

	session.FeedbacksGenerated++
	if err := s.live.Touch(ctx, session); err != nil {
		s.logger.Warn("failed to refresh session after generation",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}

	if err := s.quota.Consume(ctx, &models.UsageAudit{
		TeacherID: session.TeacherID,
		TaskID:    session.TaskID,
		SessionID: session.ID,
		Operation: "feedback_generation",
		Count:     1,
		Model:     s.generator.ModelID(),
		Warnings:  sub.ValidationWarnings,
	}); err != nil {
		s.logger.Warn("failed to consume quota",
			zap.String("teacher_id", session.TeacherID.String()),
			zap.Error(err))
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventFeedbackGenerated,
		Payload: models.FeedbackGeneratedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
		},
	}, events.SessionTeacherRoom(session.ID), events.TeacherRoom(session.TeacherID))
	s.publishStatus(ctx, session, student)

	s.mirror.Session(ctx, session)
	s.mirror.Student(ctx, session, student)
	s.mirror.Submission(ctx, session, sub)

	item.Status = models.BatchStatusGenerated
	return item
}

// fail finalizes a per-item failure and tells the teacher rooms about it.
func (s *FeedbackService) fail(ctx context.Context, session *models.Session, item models.BatchItem, code, reason string) models.BatchItem {
	item.Status = models.BatchStatusFailed
	item.Code = code
	item.Reason = reason

	s.events.Publish(ctx, models.Event{
		Type: models.EventGenerationFailed,
		Payload: models.GenerationFailedEvent{
			SessionID: session.ID,
			StudentID: item.StudentID,
			Reason:    reason,
		},
	}, events.SessionTeacherRoom(session.ID), events.TeacherRoom(session.TeacherID))

	return item
}

// revertGenerating returns a student to ready_for_feedback after a failed
// generation. Best effort: a failed revert is logged and the batch moves on.
func (s *FeedbackService) revertGenerating(ctx context.Context, session *models.Session, student *models.Student) {
	student.Status = models.StatusReadyForFeedback
	if err := s.live.SaveStudent(ctx, student); err != nil {
		s.logger.Error("failed to revert student from generating",
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		return
	}
	s.publishStatus(ctx, session, student)
}

// Approve releases generated feedback to the student. Mastery decides where
// the student lands: completed when achieved, feedback_ready otherwise.
func (s *FeedbackService) Approve(ctx context.Context, teacherID, sessionID, studentID uuid.UUID) (*models.StudentState, error) {
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

	student, ok, err := s.live.GetStudent(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, &NotFoundError{Message: "Student not found in this session"}
	}
	if !student.Status.CanApprove() {
		return nil, &InvalidTransitionError{From: student.Status, To: models.StatusFeedbackReady}
	}

	sub, ok, err := s.live.GetSubmission(ctx, sessionID, studentID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok || sub.Feedback == nil || sub.FeedbackStatus != models.FeedbackGenerated {
		return nil, &NotFoundError{Message: "No generated feedback to approve"}
	}

	sub.FeedbackStatus = models.FeedbackReleased
	if sub.Feedback.MasteryAchieved {
		student.Status = models.StatusCompleted
	} else {
		student.Status = models.StatusFeedbackReady
	}

	if err := s.live.SaveSubmission(ctx, sub); err != nil {
		return nil, storeErr(err)
	}
	if err := s.live.SaveStudent(ctx, student); err != nil {
		return nil, storeErr(err)
	}

	session.FeedbackSent++
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	s.events.Publish(ctx, models.Event{
		Type: models.EventFeedbackReleased,
		Payload: models.FeedbackReleasedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
			Feedback:  sub.Feedback,
		},
	}, events.StudentRoom(student.ID), events.SessionTeacherRoom(session.ID))
	s.publishStatus(ctx, session, student)

	s.mirror.Session(ctx, session)
	s.mirror.Student(ctx, session, student)
	s.mirror.Submission(ctx, session, sub)

	return &models.StudentState{Student: student, Submission: sub}, nil
}

// UpdateFeedback applies the teacher's shallow edits. Provided sections
// replace their counterpart wholesale; new entries get fresh ids.
func (s *FeedbackService) UpdateFeedback(ctx context.Context, teacherID, sessionID, studentID uuid.UUID, req models.UpdateFeedbackRequest) (*models.Submission, error) {
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
	if session.TeacherID != teacherID {
		return nil, &UnauthorizedError{Message: "Session belongs to another teacher"}
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
	if !ok || sub.Feedback == nil {
		return nil, &NotFoundError{Message: "No feedback to update"}
	}

	fb := sub.Feedback
	if req.Goal != nil {
		fb.Goal = *req.Goal
	}
	if req.MasteryAchieved != nil {
		fb.MasteryAchieved = *req.MasteryAchieved
	}
	if req.Strengths != nil {
		fb.Strengths = mintItemIDs(req.Strengths)
	}
	if req.GrowthAreas != nil {
		fb.GrowthAreas = mintItemIDs(req.GrowthAreas)
	}
	if req.NextSteps != nil {
		fb.NextSteps = mintStepIDs(req.NextSteps)
	}

	if err := s.live.SaveSubmission(ctx, sub); err != nil {
		return nil, storeErr(err)
	}
	if err := s.live.Touch(ctx, session); err != nil {
		return nil, storeErr(err)
	}

	rooms := []string{events.SessionTeacherRoom(session.ID)}
	if sub.FeedbackStatus == models.FeedbackReleased {
		rooms = append(rooms, events.StudentRoom(student.ID))
	}
	s.events.Publish(ctx, models.Event{
		Type: models.EventFeedbackUpdated,
		Payload: models.FeedbackUpdatedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
		},
	}, rooms...)

	s.mirror.Session(ctx, session)
	s.mirror.Submission(ctx, session, sub)

	return sub, nil
}

func (s *FeedbackService) publishStatus(ctx context.Context, session *models.Session, student *models.Student) {
	s.events.Publish(ctx, models.Event{
		Type: models.EventStudentStatusChanged,
		Payload: models.StatusChangedEvent{
			SessionID: session.ID,
			StudentID: student.ID,
			Status:    student.Status,
		},
	}, events.SessionRoom(session.ID), events.StudentRoom(student.ID))
}

// mintItemIDs fills in ids the teacher's client left blank, keeping existing
// ids stable so selections keep resolving.
func mintItemIDs(items []models.FeedbackItem) []models.FeedbackItem {
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}
	return items
}

func mintStepIDs(steps []models.NextStep) []models.NextStep {
	for i := range steps {
		if steps[i].ID == uuid.Nil {
			steps[i].ID = uuid.New()
		}
	}
	return steps
}
