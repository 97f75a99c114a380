package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const PrincipalKey contextKey = "principal"

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Principal is the authenticated caller. Exactly one of the two identity
// shapes is filled in, selected by Role.
type Principal struct {
	Role string

	// Teacher identity, minted by the platform auth service.
	TeacherID uuid.UUID
	Email     string
	Plan      string

	// Student identity, minted by the join endpoint.
	StudentID uuid.UUID
	SessionID uuid.UUID
}

type JWTAuth struct {
	Secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret)}
}

// MintTeacherToken creates a teacher JWT. Production teacher tokens come
// from the platform; this is the same shape, used by tests and tooling.
func (j *JWTAuth) MintTeacherToken(teacherID uuid.UUID, email, plan string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"role":       RoleTeacher,
		"teacher_id": teacherID.String(),
		"email":      email,
		"plan":       plan,
		"exp":        time.Now().Add(ttl).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// MintStudentToken creates the scoped token a student receives on join. It
// carries no account identity, only membership in one session.
func (j *JWTAuth) MintStudentToken(studentID, sessionID uuid.UUID, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"role":       RoleStudent,
		"student_id": studentID.String(),
		"session_id": sessionID.String(),
		"exp":        time.Now().Add(ttl).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Parse verifies a token string and returns the principal it carries. The
// websocket handler calls this directly because browsers cannot set headers
// on upgrade requests.
func (j *JWTAuth) Parse(tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	role, _ := claims["role"].(string)
	switch role {
	case RoleTeacher:
		teacherID, err := claimUUID(claims, "teacher_id")
		if err != nil {
			return nil, err
		}
		email, _ := claims["email"].(string)
		plan, _ := claims["plan"].(string)
		return &Principal{Role: RoleTeacher, TeacherID: teacherID, Email: email, Plan: plan}, nil

	case RoleStudent:
		studentID, err := claimUUID(claims, "student_id")
		if err != nil {
			return nil, err
		}
		sessionID, err := claimUUID(claims, "session_id")
		if err != nil {
			return nil, err
		}
		return &Principal{Role: RoleStudent, StudentID: studentID, SessionID: sessionID}, nil

	default:
		return nil, jwt.ErrTokenInvalidClaims
	}
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	s, ok := claims[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing %s claim", key)
	}
	return uuid.Parse(s)
}

// Middleware validates the bearer token and attaches the principal to the
// request context. Role enforcement happens in RequireTeacher and
// RequireStudent so both can share one parse.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		principal, err := j.Parse(parts[1])
		if err != nil {
			if strings.Contains(err.Error(), "expired") {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
			}
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTeacher rejects any principal that is not a teacher.
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || p.Role != RoleTeacher {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Teacher credentials required", r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStudent rejects any principal that is not a student.
func RequireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || p.Role != RoleStudent {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Student credentials required", r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal extracts the authenticated principal from request context.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

// GetTeacherID returns the teacher id, or uuid.Nil for non-teacher callers.
func GetTeacherID(ctx context.Context) uuid.UUID {
	if p := GetPrincipal(ctx); p != nil && p.Role == RoleTeacher {
		return p.TeacherID
	}
	return uuid.Nil
}

// GetStudentID returns the student id, or uuid.Nil for non-student callers.
func GetStudentID(ctx context.Context) uuid.UUID {
	if p := GetPrincipal(ctx); p != nil && p.Role == RoleStudent {
		return p.StudentID
	}
	return uuid.Nil
}

// GetSessionID returns the session bound into a student token.
func GetSessionID(ctx context.Context) uuid.UUID {
	if p := GetPrincipal(ctx); p != nil && p.Role == RoleStudent {
		return p.SessionID
	}
	return uuid.Nil
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
