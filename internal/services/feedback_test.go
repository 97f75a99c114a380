package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/store"
)

type fakeGenerator struct {
	mu    sync.Mutex
	fb    *models.Feedback
	err   error
	fn    func(ctx context.Context, input GenerateInput) (*models.Feedback, error)
	calls []GenerateInput
}

func (f *fakeGenerator) Generate(ctx context.Context, input GenerateInput) (*models.Feedback, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, input)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.fb, nil
}

func (f *fakeGenerator) ModelID() string { return "test-model" }

type fakeQuota struct {
	mu         sync.Mutex
	status     models.QuotaStatus
	checkErr   error
	checkCalls int
	consumed   []*models.UsageAudit
}

func (f *fakeQuota) Check(ctx context.Context, teacherID uuid.UUID) (*models.QuotaStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeQuota) Consume(ctx context.Context, audit *models.UsageAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, audit)
	return nil
}

type feedbackFixture struct {
	svc   *FeedbackService
	live  *store.LiveStore
	pub   *capturePublisher
	gen   *fakeGenerator
	quota *fakeQuota
	task  *models.Task
}

func newFeedbackFixture(t *testing.T) *feedbackFixture {
	t.Helper()

	live := newTestLive(t)
	pub := &capturePublisher{}
	task := &models.Task{
		ID:              uuid.New(),
		TeacherID:       uuid.New(),
		Title:           "Persuasive paragraph",
		Prompt:          "Argue for a longer lunch break",
		SuccessCriteria: []string{"States a clear claim", "Gives two supported reasons"},
	}
	gen := &fakeGenerator{fb: sampleFeedback(false)}
	quota := &fakeQuota{status: models.QuotaStatus{Allowed: true, Limit: 50, Remaining: 50}}

	svc := NewFeedbackService(
		live,
		&fakeTasks{byID: map[uuid.UUID]*models.Task{task.ID: task}},
		quota,
		gen,
		pub,
		NewMirror(&countingSnapshots{}, zap.NewNop()),
		metrics.New(),
		NewValidator(),
		2*time.Second,
		zap.NewNop(),
	)
	return &feedbackFixture{svc: svc, live: live, pub: pub, gen: gen, quota: quota, task: task}
}

func (f *feedbackFixture) readySubmitted(t *testing.T, session *models.Session, content string) *models.Student {
	t.Helper()
	student := seedStudent(t, f.live, session, models.StatusReadyForFeedback)
	seedSubmission(t, f.live, session, student, content)
	return student
}

func TestGenerateBatch_Success(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := f.readySubmitted(t, session, "my persuasive draft")

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Items, 1)
	assert.Equal(t, models.BatchStatusGenerated, result.Items[0].Status)

	stored, _, err := f.live.GetStudent(ctx, session.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)

	sub, _, err := f.live.GetSubmission(ctx, session.ID, student.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.Feedback)
	assert.Equal(t, models.FeedbackGenerated, sub.FeedbackStatus)

	after, _, err := f.live.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.FeedbacksGenerated)

	require.Len(t, f.quota.consumed, 1)
	audit := f.quota.consumed[0]
	assert.Equal(t, "feedback_generation", audit.Operation)
	assert.Equal(t, 1, audit.Count)
	assert.Equal(t, "test-model", audit.Model)

	require.Len(t, f.gen.calls, 1)
	assert.Equal(t, "my persuasive draft", f.gen.calls[0].Content)
	assert.Equal(t, f.task.SuccessCriteria, f.gen.calls[0].Criteria)

	assert.Contains(t, f.pub.typesSeen(), models.EventFeedbackGenerated)
}

func TestGenerateBatch_QuotaGateBlocksWholeBatch(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	a := f.readySubmitted(t, session, "draft a")
	b := f.readySubmitted(t, session, "draft b")
	f.quota.status.Remaining = 1

	_, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{})

	var quotaErr *InsufficientQuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 2, quotaErr.Required)
	assert.Equal(t, 1, quotaErr.Remaining)

	// Nothing moved: the gate fires before any student transitions.
	for _, st := range []*models.Student{a, b} {
		stored, _, err := f.live.GetStudent(ctx, session.ID, st.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReadyForFeedback, stored.Status)
	}
	assert.Empty(t, f.gen.calls)
}

func TestGenerateBatch_EmptyTargetsSkipsQuota(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	seedStudent(t, f.live, session, models.StatusActive)

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Generated)
	assert.Empty(t, result.Items)
	assert.Equal(t, 0, f.quota.checkCalls)
}

func TestGenerateBatch_FailureIsolation(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	bad := f.readySubmitted(t, session, "draft-fail")
	good := f.readySubmitted(t, session, "draft-ok")

	f.gen.fn = func(ctx context.Context, input GenerateInput) (*models.Feedback, error) {
		if input.Content == "draft-fail" {
			return nil, errors.New("model unavailable")
		}
		return sampleFeedback(false), nil
	}

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{
		StudentIDs: []string{bad.ID.String(), good.ID.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 2)
	assert.Equal(t, models.BatchStatusFailed, result.Items[0].Status)
	assert.Equal(t, models.BatchCodeGenerationFailed, result.Items[0].Code)
	assert.Equal(t, models.BatchStatusGenerated, result.Items[1].Status)

	// The failed student is reverted, the successful one moves on.
	storedBad, _, err := f.live.GetStudent(ctx, session.ID, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForFeedback, storedBad.Status)
	storedGood, _, err := f.live.GetStudent(ctx, session.ID, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, storedGood.Status)

	assert.Contains(t, f.pub.typesSeen(), models.EventGenerationFailed)
}

func TestGenerateBatch_NoSubmissionParksInGenerating(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := seedStudent(t, f.live, session, models.StatusReadyForFeedback)

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{
		StudentIDs: []string{student.ID.String()},
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, models.BatchCodeNoSubmission, result.Items[0].Code)

	// The missing submission is a data integrity problem, so the student is
	// left in generating rather than silently reverted.
	stored, _, err := f.live.GetStudent(ctx, session.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, stored.Status)
}

func TestGenerateBatch_TimeoutRevertsStudent(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := f.readySubmitted(t, session, "slow draft")

	f.svc.genTimeout = 50 * time.Millisecond
	f.gen.fn = func(ctx context.Context, input GenerateInput) (*models.Feedback, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, models.BatchCodeGenerationFailed, result.Items[0].Code)
	assert.Contains(t, result.Items[0].Reason, "timed out")

	stored, _, err := f.live.GetStudent(ctx, session.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForFeedback, stored.Status)
	assert.Empty(t, f.quota.consumed)
}

func TestGenerateBatch_UnknownAndIneligibleTargets(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	idle := seedStudent(t, f.live, session, models.StatusActive)
	ghost := uuid.New()

	result, err := f.svc.GenerateBatch(ctx, f.task.TeacherID, session.ID, models.GenerateBatchRequest{
		StudentIDs: []string{ghost.String(), idle.ID.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Items, 2)
	assert.Equal(t, models.BatchCodeStudentNotFound, result.Items[0].Code)
	assert.Equal(t, models.BatchCodeInvalidStatus, result.Items[1].Code)
	assert.Contains(t, result.Items[1].Reason, "active")
	assert.Empty(t, f.gen.calls)
}

func TestGenerateBatch_OwnershipEnforced(t *testing.T) {
	f := newFeedbackFixture(t)
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)

	_, err := f.svc.GenerateBatch(context.Background(), uuid.New(), session.ID, models.GenerateBatchRequest{})

	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func approveFixture(t *testing.T, f *feedbackFixture, mastery bool) (*models.Session, *models.Student) {
	t.Helper()
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := seedStudent(t, f.live, session, models.StatusSubmitted)
	sub := seedSubmission(t, f.live, session, student, "my draft")
	sub.Feedback = sampleFeedback(mastery)
	sub.FeedbackStatus = models.FeedbackGenerated
	require.NoError(t, f.live.SaveSubmission(ctx, sub))
	return session, student
}

func TestApprove_ReleasesFeedback(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session, student := approveFixture(t, f, false)

	state, err := f.svc.Approve(ctx, f.task.TeacherID, session.ID, student.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFeedbackReady, state.Student.Status)
	assert.Equal(t, models.FeedbackReleased, state.Submission.FeedbackStatus)
	require.NotNil(t, state.Submission.Feedback)

	after, _, err := f.live.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.FeedbackSent)

	var releaseRooms []string
	for _, ev := range f.pub.events {
		if ev.Event.Type == models.EventFeedbackReleased {
			releaseRooms = ev.Rooms
		}
	}
	assert.Contains(t, releaseRooms, "student:"+student.ID.String())
}

func TestApprove_MasteryCompletesStudent(t *testing.T) {
	f := newFeedbackFixture(t)
	session, student := approveFixture(t, f, true)

	state, err := f.svc.Approve(context.Background(), f.task.TeacherID, session.ID, student.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, state.Student.Status)
}

func TestApprove_RequiresSubmittedStatus(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := seedStudent(t, f.live, session, models.StatusActive)

	_, err := f.svc.Approve(ctx, f.task.TeacherID, session.ID, student.ID)

	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.StatusActive, transition.From)
}

func TestApprove_RequiresGeneratedFeedback(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := seedStudent(t, f.live, session, models.StatusSubmitted)
	seedSubmission(t, f.live, session, student, "my draft")

	_, err := f.svc.Approve(ctx, f.task.TeacherID, session.ID, student.ID)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUpdateFeedback_ReplacesSectionsAndMintsIDs(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session, student := approveFixture(t, f, false)

	keepID := uuid.New()
	goal := "Sharpen the closing argument"
	sub, err := f.svc.UpdateFeedback(ctx, f.task.TeacherID, session.ID, student.ID, models.UpdateFeedbackRequest{
		Goal: &goal,
		NextSteps: []models.NextStep{
			{ID: keepID, ActionVerb: "Rework", Target: "the final sentence", ActionType: "revise"},
			{ActionVerb: "Add", Target: "a counterargument", ActionType: "extend"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, goal, sub.Feedback.Goal)
	require.Len(t, sub.Feedback.NextSteps, 2)
	assert.Equal(t, keepID, sub.Feedback.NextSteps[0].ID)
	assert.NotEqual(t, uuid.Nil, sub.Feedback.NextSteps[1].ID)

	// Untouched sections survive the update.
	assert.NotEmpty(t, sub.Feedback.Strengths)
}

func TestUpdateFeedback_StudentRoomOnlyWhenReleased(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session, student := approveFixture(t, f, false)

	goal := "tighter goal"
	_, err := f.svc.UpdateFeedback(ctx, f.task.TeacherID, session.ID, student.ID, models.UpdateFeedbackRequest{Goal: &goal})
	require.NoError(t, err)

	var beforeRelease []string
	for _, ev := range f.pub.events {
		if ev.Event.Type == models.EventFeedbackUpdated {
			beforeRelease = ev.Rooms
		}
	}
	assert.NotContains(t, beforeRelease, "student:"+student.ID.String())

	_, err = f.svc.Approve(ctx, f.task.TeacherID, session.ID, student.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateFeedback(ctx, f.task.TeacherID, session.ID, student.ID, models.UpdateFeedbackRequest{Goal: &goal})
	require.NoError(t, err)

	var afterRelease []string
	for _, ev := range f.pub.events {
		if ev.Event.Type == models.EventFeedbackUpdated {
			afterRelease = ev.Rooms
		}
	}
	assert.Contains(t, afterRelease, "student:"+student.ID.String())
}

func TestUpdateFeedback_NoFeedbackYet(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	session := seedSession(t, f.live, f.task.TeacherID, f.task.ID)
	student := seedStudent(t, f.live, session, models.StatusReadyForFeedback)
	seedSubmission(t, f.live, session, student, "my draft")

	goal := "anything"
	_, err := f.svc.UpdateFeedback(ctx, f.task.TeacherID, session.ID, student.ID, models.UpdateFeedbackRequest{Goal: &goal})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}
