package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"classpulse-backend/internal/models"
	"classpulse-backend/internal/store"
)

func newTestLive(t *testing.T) *store.LiveStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return store.NewLiveStore(store.NewExpiringStore(client), 2*time.Hour)
}

type publishedEvent struct {
	Event models.Event
	Rooms []string
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (c *capturePublisher) Publish(ctx context.Context, event models.Event, rooms ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, publishedEvent{Event: event, Rooms: rooms})
}

func (c *capturePublisher) typesSeen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Event.Type)
	}
	return out
}

type fakeTasks struct {
	byID map[uuid.UUID]*models.Task
}

func (f *fakeTasks) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	if task, ok := f.byID[id]; ok {
		return task, nil
	}
	return nil, pgx.ErrNoRows
}

// countingSnapshots records durable writes without a database.
type countingSnapshots struct {
	mu          sync.Mutex
	saves       int
	sessions    int
	students    int
	submissions int
	saveErr     error
}

func (c *countingSnapshots) Save(ctx context.Context, snap *models.SessionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves++
	c.sessions++
	c.students += len(snap.Students)
	c.submissions += len(snap.Submissions)
	return nil
}

func (c *countingSnapshots) UpsertSession(ctx context.Context, session *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions++
	return nil
}

func (c *countingSnapshots) UpsertStudent(ctx context.Context, student *models.Student) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.students++
	return nil
}

func (c *countingSnapshots) UpsertSubmission(ctx context.Context, sub *models.Submission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions++
	return nil
}

func seedSession(t *testing.T, live *store.LiveStore, teacherID, taskID uuid.UUID) *models.Session {
	t.Helper()

	session := &models.Session{
		ID:        uuid.New(),
		TaskID:    taskID,
		TeacherID: teacherID,
		IsLive:    true,
		StartedAt: time.Now(),
	}
	require.NoError(t, live.SaveSession(context.Background(), session))
	require.NoError(t, live.BindTask(context.Background(), taskID, session.ID))
	return session
}

func seedStudent(t *testing.T, live *store.LiveStore, session *models.Session, status models.StudentStatus) *models.Student {
	t.Helper()

	id := uuid.New()
	student := &models.Student{
		ID:          id,
		SessionID:   session.ID,
		DisplayName: "student-" + id.String()[:8],
		JoinedAt:    time.Now(),
		Status:      status,
	}
	require.NoError(t, live.SaveStudent(context.Background(), student))
	return student
}

func seedSubmission(t *testing.T, live *store.LiveStore, session *models.Session, student *models.Student, content string) *models.Submission {
	t.Helper()

	sub := &models.Submission{
		StudentID:      student.ID,
		SessionID:      session.ID,
		Content:        content,
		SubmittedAt:    time.Now(),
		FeedbackStatus: models.FeedbackPending,
	}
	require.NoError(t, live.SaveSubmission(context.Background(), sub))
	return sub
}

func sampleFeedback(mastery bool) *models.Feedback {
	return &models.Feedback{
		ID:              uuid.New(),
		Goal:            "Write a persuasive paragraph with supported reasons",
		MasteryAchieved: mastery,
		Strengths: []models.FeedbackItem{
			{ID: uuid.New(), Category: "clarity", Text: "Your claim is stated right away"},
		},
		GrowthAreas: []models.FeedbackItem{
			{ID: uuid.New(), Category: "evidence", Text: "Your reasons need supporting detail"},
		},
		NextSteps: []models.NextStep{
			{
				ID:               uuid.New(),
				ActionVerb:       "Add",
				Target:           "supporting evidence for your second reason",
				SuccessIndicator: "The paragraph cites one concrete example",
				CTALabel:         "Add evidence",
				ActionType:       "revise",
			},
		},
	}
}
