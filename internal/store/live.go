package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"classpulse-backend/internal/models"
)

// Key layout. Everything belonging to one session shares the
// live:session:{id} prefix so a single prefix sweep refreshes the whole
// session. The task index lives outside the prefix and is refreshed
// explicitly.
//
//	live:task:{taskID}                          -> session id
//	live:session:{sessionID}                    -> session record
//	live:session:{sessionID}:student:{id}       -> student record
//	live:session:{sessionID}:submission:{id}    -> latest submission
const (
	taskKeyPrefix    = "live:task:"
	sessionKeyPrefix = "live:session:"
)

// LiveStore is the typed layer over the expiring store. It owns the key
// layout, the JSON encoding, and the shared-TTL refresh rule: every write
// path ends in Touch, which re-stamps DataExpiresAt and extends the TTL of
// every key the session owns.
type LiveStore struct {
	store *ExpiringStore
	ttl   time.Duration
}

func NewLiveStore(store *ExpiringStore, ttl time.Duration) *LiveStore {
	return &LiveStore{store: store, ttl: ttl}
}

// TTL returns the shared session lifetime.
func (ls *LiveStore) TTL() time.Duration {
	return ls.ttl
}

// sessionKey doubles as the sweep prefix for everything the session owns.
func sessionKey(sessionID uuid.UUID) string {
	return sessionKeyPrefix + sessionID.String()
}

func studentKey(sessionID, studentID uuid.UUID) string {
	return sessionKey(sessionID) + ":student:" + studentID.String()
}

func submissionKey(sessionID, studentID uuid.UUID) string {
	return sessionKey(sessionID) + ":submission:" + studentID.String()
}

func taskKey(taskID uuid.UUID) string {
	return taskKeyPrefix + taskID.String()
}

// SaveSession writes the session record and stamps its expiry.
func (ls *LiveStore) SaveSession(ctx context.Context, session *models.Session) error {
	session.DataExpiresAt = time.Now().Add(ls.ttl)
	return ls.put(ctx, sessionKey(session.ID), session)
}

func (ls *LiveStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, bool, error) {
	var session models.Session
	ok, err := ls.get(ctx, sessionKey(sessionID), &session)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &session, true, nil
}

// BindTask points the task index at a session so later joins find it.
func (ls *LiveStore) BindTask(ctx context.Context, taskID, sessionID uuid.UUID) error {
	return ls.store.Put(ctx, taskKey(taskID), []byte(sessionID.String()), ls.ttl)
}

// UnbindTask drops a stale task index entry.
func (ls *LiveStore) UnbindTask(ctx context.Context, taskID uuid.UUID) error {
	return ls.store.Delete(ctx, taskKey(taskID))
}

// SessionIDForTask resolves the live session currently bound to a task.
func (ls *LiveStore) SessionIDForTask(ctx context.Context, taskID uuid.UUID) (uuid.UUID, bool, error) {
	raw, ok, err := ls.store.Get(ctx, taskKey(taskID))
	if err != nil || !ok {
		return uuid.Nil, ok, err
	}
	id, err := uuid.Parse(string(raw))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt task index for %s: %w", taskID, err)
	}
	return id, true, nil
}

func (ls *LiveStore) SaveStudent(ctx context.Context, student *models.Student) error {
	return ls.put(ctx, studentKey(student.SessionID, student.ID), student)
}

func (ls *LiveStore) GetStudent(ctx context.Context, sessionID, studentID uuid.UUID) (*models.Student, bool, error) {
	var student models.Student
	ok, err := ls.get(ctx, studentKey(sessionID, studentID), &student)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &student, true, nil
}

// ListStudents returns the session roster ordered by join time.
func (ls *LiveStore) ListStudents(ctx context.Context, sessionID uuid.UUID) ([]*models.Student, error) {
	entries, err := ls.store.GetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}

	students := make([]*models.Student, 0, len(entries))
	for key, raw := range entries {
		if !strings.Contains(key, ":student:") {
			continue
		}
		var student models.Student
		if err := json.Unmarshal(raw, &student); err != nil {
			return nil, fmt.Errorf("corrupt student record %s: %w", key, err)
		}
		students = append(students, &student)
	}

	sort.Slice(students, func(i, j int) bool {
		if students[i].JoinedAt.Equal(students[j].JoinedAt) {
			return students[i].ID.String() < students[j].ID.String()
		}
		return students[i].JoinedAt.Before(students[j].JoinedAt)
	})
	return students, nil
}

func (ls *LiveStore) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	return ls.put(ctx, submissionKey(sub.SessionID, sub.StudentID), sub)
}

func (ls *LiveStore) GetSubmission(ctx context.Context, sessionID, studentID uuid.UUID) (*models.Submission, bool, error) {
	var sub models.Submission
	ok, err := ls.get(ctx, submissionKey(sessionID, studentID), &sub)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &sub, true, nil
}

// ListSubmissions returns every latest-per-student submission in the session.
func (ls *LiveStore) ListSubmissions(ctx context.Context, sessionID uuid.UUID) ([]*models.Submission, error) {
	entries, err := ls.store.GetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}

	subs := make([]*models.Submission, 0, len(entries))
	for key, raw := range entries {
		if !strings.Contains(key, ":submission:") {
			continue
		}
		var sub models.Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("corrupt submission record %s: %w", key, err)
		}
		subs = append(subs, &sub)
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].StudentID.String() < subs[j].StudentID.String()
	})
	return subs, nil
}

// Touch refreshes the shared TTL of everything the session owns, re-saves
// the session record with the new expiry, and keeps the task index alive.
// Every mutating operation calls this last.
func (ls *LiveStore) Touch(ctx context.Context, session *models.Session) error {
	if err := ls.SaveSession(ctx, session); err != nil {
		return err
	}
	if err := ls.store.ExtendTTLByPrefix(ctx, sessionKey(session.ID), ls.ttl); err != nil {
		return err
	}
	return ls.store.ExtendTTL(ctx, taskKey(session.TaskID), ls.ttl)
}

func (ls *LiveStore) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return ls.store.Put(ctx, key, data, ls.ttl)
}

func (ls *LiveStore) get(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, ok, err := ls.store.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return true, nil
}
