// Package events fans session activity out to websocket subscribers through
// Redis pub/sub. Publishing is fire and forget: the authoritative write has
// already happened by the time an event goes out, so a lost event degrades
// the UI but never the data.
package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classpulse-backend/internal/models"
)

// Room name helpers. A room is a logical audience; a connection can sit in
// several rooms at once.

// SessionRoom is everyone in a session, students and teacher alike.
func SessionRoom(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

// SessionTeacherRoom carries teacher-only detail for one session, such as
// generation failures and raw submission counts.
func SessionTeacherRoom(sessionID uuid.UUID) string {
	return "session:" + sessionID.String() + ":teacher"
}

// StudentRoom addresses a single student. Student ids are globally unique,
// so the room name does not need the session.
func StudentRoom(studentID uuid.UUID) string {
	return "student:" + studentID.String()
}

// TeacherRoom spans all of a teacher's sessions, for dashboard views.
func TeacherRoom(teacherID uuid.UUID) string {
	return "teacher:" + teacherID.String()
}

// Channel maps a room to its Redis pub/sub channel.
func Channel(room string) string {
	return "room:" + room
}

type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends one event to every listed room. Failures are logged and
// swallowed; callers never branch on delivery.
func (p *Publisher) Publish(ctx context.Context, event models.Event, rooms ...string) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal event",
			zap.String("type", event.Type),
			zap.Error(err))
		return
	}

	for _, room := range rooms {
		if err := p.client.Publish(ctx, Channel(room), data).Err(); err != nil {
			p.logger.Warn("failed to publish event",
				zap.String("type", event.Type),
				zap.String("room", room),
				zap.Error(err))
		}
	}
}
