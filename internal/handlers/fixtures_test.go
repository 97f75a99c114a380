package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/services"
	"classpulse-backend/internal/store"
)

// The handler tests wire real services over miniredis and stub only the
// process edges: Postgres reads, Gemini, and the event fan-out.

type stubTasks struct {
	byID map[uuid.UUID]*models.Task
}

func (s *stubTasks) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	if task, ok := s.byID[id]; ok {
		return task, nil
	}
	return nil, pgx.ErrNoRows
}

type stubTeachers struct {
	byID map[uuid.UUID]*models.Teacher
}

func (s *stubTeachers) GetByID(ctx context.Context, id uuid.UUID) (*models.Teacher, error) {
	if teacher, ok := s.byID[id]; ok {
		return teacher, nil
	}
	return nil, pgx.ErrNoRows
}

type stubQuotaRows struct {
	rows map[uuid.UUID]*models.TeacherQuota
}

func (s *stubQuotaRows) Get(ctx context.Context, teacherID uuid.UUID) (*models.TeacherQuota, error) {
	if q, ok := s.rows[teacherID]; ok {
		return q, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubQuotaRows) Upsert(ctx context.Context, quota *models.TeacherQuota) error {
	s.rows[quota.TeacherID] = quota
	return nil
}

func (s *stubQuotaRows) Increment(ctx context.Context, teacherID uuid.UUID, n int) error {
	if q, ok := s.rows[teacherID]; ok {
		q.Used += n
	} else {
		s.rows[teacherID] = &models.TeacherQuota{TeacherID: teacherID, Used: n, ResetAt: time.Now()}
	}
	return nil
}

type stubAudits struct{}

func (s *stubAudits) Insert(ctx context.Context, audit *models.UsageAudit) error { return nil }

type stubGenerator struct {
	fb  *models.Feedback
	err error
}

func (s *stubGenerator) Generate(ctx context.Context, input services.GenerateInput) (*models.Feedback, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fb, nil
}

func (s *stubGenerator) ModelID() string { return "test-model" }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, event models.Event, rooms ...string) {}

type nopSnapshots struct{}

func (nopSnapshots) Save(ctx context.Context, snap *models.SessionSnapshot) error       { return nil }
func (nopSnapshots) UpsertSession(ctx context.Context, s *models.Session) error         { return nil }
func (nopSnapshots) UpsertStudent(ctx context.Context, st *models.Student) error        { return nil }
func (nopSnapshots) UpsertSubmission(ctx context.Context, sub *models.Submission) error { return nil }

type handlerFixture struct {
	router    *chi.Mux
	live      *store.LiveStore
	task      *models.Task
	teacherID uuid.UUID
	gen       *stubGenerator
	quotas    *stubQuotaRows
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	live := store.NewLiveStore(store.NewExpiringStore(client), 2*time.Hour)

	teacherID := uuid.New()
	task := &models.Task{
		ID:              uuid.New(),
		TeacherID:       teacherID,
		Title:           "Persuasive paragraph",
		Prompt:          "Argue for a longer lunch break",
		SuccessCriteria: []string{"States a clear claim", "Gives two supported reasons"},
	}
	tasks := &stubTasks{byID: map[uuid.UUID]*models.Task{task.ID: task}}
	teachers := &stubTeachers{byID: map[uuid.UUID]*models.Teacher{
		teacherID: {ID: teacherID, Email: "teacher@example.com", FullName: "Test Teacher", Plan: "free"},
	}}

	logger := zap.NewNop()
	validate := services.NewValidator()
	mirror := services.NewMirror(nopSnapshots{}, logger)
	pub := nopPublisher{}
	gen := &stubGenerator{fb: handlerFeedback(false)}
	quotas := &stubQuotaRows{rows: map[uuid.UUID]*models.TeacherQuota{}}

	quotaSvc := services.NewQuotaService(teachers, quotas, &stubAudits{}, map[string]int{"free": 50}, logger)
	sessionSvc := services.NewSessionService(
		live, tasks,
		middleware.NewJWTAuth("test-secret"), time.Hour,
		services.NewLexicalDetector(), pub, mirror, validate, logger,
	)
	feedbackSvc := services.NewFeedbackService(
		live, tasks, quotaSvc, gen, pub, mirror, metrics.New(), validate, 2*time.Second, logger,
	)
	persistSvc := services.NewPersistService(live, nopSnapshots{}, pub, logger)

	sh := NewSessionHandler(sessionSvc)
	th := NewTeacherHandler(sessionSvc, feedbackSvc, persistSvc, quotaSvc)

	r := chi.NewRouter()
	r.Post("/sessions/join", sh.Join)
	r.Post("/sessions/submit", sh.Submit)
	r.Get("/sessions/me", sh.Me)
	r.Post("/sessions/next-step", sh.SelectNextStep)
	r.Get("/sessions/{id}", th.GetSession)
	r.Post("/sessions/{id}/feedback/generate", th.GenerateFeedback)
	r.Post("/sessions/{id}/students/{studentID}/approve", th.ApproveFeedback)
	r.Patch("/sessions/{id}/students/{studentID}/feedback", th.UpdateFeedback)
	r.Delete("/sessions/{id}/students/{studentID}", th.RemoveStudent)
	r.Post("/sessions/{id}/persist", th.Persist)
	r.Get("/quota", th.Quota)

	return &handlerFixture{
		router:    r,
		live:      live,
		task:      task,
		teacherID: teacherID,
		gen:       gen,
		quotas:    quotas,
	}
}

func (f *handlerFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func asTeacher(req *http.Request, teacherID uuid.UUID) *http.Request {
	principal := &middleware.Principal{Role: middleware.RoleTeacher, TeacherID: teacherID}
	return req.WithContext(context.WithValue(req.Context(), middleware.PrincipalKey, principal))
}

func asStudent(req *http.Request, studentID, sessionID uuid.UUID) *http.Request {
	principal := &middleware.Principal{Role: middleware.RoleStudent, StudentID: studentID, SessionID: sessionID}
	return req.WithContext(context.WithValue(req.Context(), middleware.PrincipalKey, principal))
}

func seedLiveSession(t *testing.T, f *handlerFixture) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:        uuid.New(),
		TaskID:    f.task.ID,
		TeacherID: f.teacherID,
		IsLive:    true,
		StartedAt: time.Now(),
	}
	require.NoError(t, f.live.SaveSession(context.Background(), session))
	require.NoError(t, f.live.BindTask(context.Background(), f.task.ID, session.ID))
	return session
}

func seedLiveStudent(t *testing.T, f *handlerFixture, session *models.Session, status models.StudentStatus) *models.Student {
	t.Helper()
	student := &models.Student{
		ID:          uuid.New(),
		SessionID:   session.ID,
		DisplayName: "Amara",
		JoinedAt:    time.Now(),
		Status:      status,
	}
	require.NoError(t, f.live.SaveStudent(context.Background(), student))
	return student
}

func seedLiveSubmission(t *testing.T, f *handlerFixture, session *models.Session, student *models.Student) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		SessionID:      session.ID,
		StudentID:      student.ID,
		Content:        "my draft",
		SubmittedAt:    time.Now(),
		FeedbackStatus: models.FeedbackPending,
	}
	require.NoError(t, f.live.SaveSubmission(context.Background(), sub))
	return sub
}

func handlerFeedback(mastery bool) *models.Feedback {
	return &models.Feedback{
		ID:              uuid.New(),
		Goal:            "Support both reasons with evidence",
		MasteryAchieved: mastery,
		Strengths: []models.FeedbackItem{
			{ID: uuid.New(), Category: "strength", Text: "Clear claim up front"},
		},
		GrowthAreas: []models.FeedbackItem{
			{ID: uuid.New(), Category: "growth_area", Text: "Second reason is unsupported"},
		},
		NextSteps: []models.NextStep{{
			ID:               uuid.New(),
			ActionVerb:       "Add",
			Target:           "supporting evidence for your second reason",
			SuccessIndicator: "The paragraph cites one concrete example",
			CTALabel:         "Add evidence",
			ActionType:       "revise",
		}},
	}
}
