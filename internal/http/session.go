package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"room-reserve/internal/domain"
)

const sessionCookie = "session"

const actorContextKey = "actor"

var errNoSession = errors.New("no valid session")

type sessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SessionManager issues and validates cookie-backed session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue binds a user to a signed session token.
func (m *SessionManager) Issue(user *domain.User) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Username: user.Username,
		Role:     string(user.Role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and recovers the actor bound to it.
func (m *SessionManager) Parse(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errNoSession
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errNoSession
	}

	return domain.Actor{
		ID:       id,
		Username: claims.Username,
		Role:     domain.Role(claims.Role),
	}, nil
}

// TTL reports the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

func (h *Handler) actorFromRequest(c *gin.Context) (domain.Actor, error) {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return domain.Actor{}, errNoSession
	}
	return h.sessions.Parse(cookie)
}

// requireSession gates JSON routes: unauthenticated requests get 401.
// The token subject must still map to a live account in the store.
func (h *Handler) requireSession(c *gin.Context) {
	actor, err := h.actorFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authentication required"})
		return
	}
	if _, err := h.users.GetByID(c.Request.Context(), actor.ID); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authentication required"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func currentActor(c *gin.Context) domain.Actor {
	actor, _ := c.Get(actorContextKey)
	a, _ := actor.(domain.Actor)
	return a
}

func (h *Handler) setSessionCookie(c *gin.Context, token string) {
	c.SetCookie(sessionCookie, token, int(h.sessions.TTL().Seconds()), "/", "", false, true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
}
