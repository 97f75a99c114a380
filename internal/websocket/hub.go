// Package websocket pushes live session events to connected clients. Each
// connection sits in a set of rooms derived from its token; the hub holds one
// Redis subscription per room with at least one local connection and fans
// payloads out verbatim.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classpulse-backend/internal/events"
	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/store"
)

var errInvalidSession = errors.New("session not available")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Hub struct {
	mu      sync.RWMutex
	rooms   map[string][]*websocket.Conn
	cancels map[string]context.CancelFunc

	redisClient *redis.Client
	auth        *middleware.JWTAuth
	live        *store.LiveStore
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewHub(redisClient *redis.Client, auth *middleware.JWTAuth, live *store.LiveStore, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:       make(map[string][]*websocket.Conn),
		cancels:     make(map[string]context.CancelFunc),
		redisClient: redisClient,
		auth:        auth,
		live:        live,
		metrics:     m,
		logger:      logger,
	}
}

// HandleWebSocket upgrades the request and parks the connection in its rooms.
// The token travels as a query param because browsers cannot set headers on
// an upgrade request.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	principal, err := h.auth.Parse(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := h.roomsFor(r, principal)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	for _, room := range rooms {
		h.join(room, conn)
	}
	h.metrics.WSConnected()
	h.logger.Info("websocket connected",
		zap.String("role", principal.Role),
		zap.Strings("rooms", rooms))

	// The read loop only exists to notice the disconnect. Clients never send
	// anything the server acts on.
	go func() {
		defer func() {
			for _, room := range rooms {
				h.leave(room, conn)
			}
			h.metrics.WSDisconnected()
			h.logger.Info("websocket disconnected", zap.String("role", principal.Role))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// roomsFor resolves the rooms a principal may listen to. Students get their
// session and their own private room. Teachers get their cross-session room,
// plus a session's rooms when they ask for one they own.
func (h *Hub) roomsFor(r *http.Request, principal *middleware.Principal) ([]string, error) {
	switch principal.Role {
	case middleware.RoleStudent:
		return []string{
			events.SessionRoom(principal.SessionID),
			events.StudentRoom(principal.StudentID),
		}, nil

	case middleware.RoleTeacher:
		rooms := []string{events.TeacherRoom(principal.TeacherID)}
		if raw := r.URL.Query().Get("session_id"); raw != "" {
			sessionID, err := uuid.Parse(raw)
			if err != nil {
				return nil, errInvalidSession
			}
			session, ok, err := h.live.GetSession(r.Context(), sessionID)
			if err != nil || !ok || session.TeacherID != principal.TeacherID {
				return nil, errInvalidSession
			}
			rooms = append(rooms,
				events.SessionRoom(sessionID),
				events.SessionTeacherRoom(sessionID))
		}
		return rooms, nil

	default:
		return nil, errInvalidSession
	}
}

func (h *Hub) join(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms[room] = append(h.rooms[room], conn)

	// First connection in the room opens the Redis subscription.
	if len(h.rooms[room]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancels[room] = cancel
		go h.subscribe(ctx, room)
	}
}

func (h *Hub) leave(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.rooms[room]
	for i, c := range conns {
		if c == conn {
			h.rooms[room] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// Last connection out closes the subscription.
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
		if cancel, ok := h.cancels[room]; ok {
			cancel()
			delete(h.cancels, room)
		}
	}
}

func (h *Hub) subscribe(ctx context.Context, room string) {
	pubsub := h.redisClient.Subscribe(ctx, events.Channel(room))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(room, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[room] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", zap.String("room", room), zap.Error(err))
		}
	}
}
