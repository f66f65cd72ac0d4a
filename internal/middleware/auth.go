package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userIDKey = "user_id"

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), secret: []byte(secret)}
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func (am *AuthMiddleware) IssueToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.secret)
}

func (am *AuthMiddleware) parse(tokenString string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid or expired token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token: %w", err)
	}
	return id, nil
}

// OptionalAuth attaches the caller's id when a valid token is present and
// lets anonymous requests through.
func (am *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := extractToken(c); tokenString != "" {
			if id, err := am.parse(tokenString); err == nil {
				c.Set(userIDKey, id)
			} else {
				am.log.Debug("Ignoring invalid token", "error", err)
			}
		}
		c.Next()
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			Abort(c, apierr.Unauthorized("missing or invalid token"))
			return
		}
		id, err := am.parse(tokenString)
		if err != nil {
			Abort(c, apierr.New(http.StatusUnauthorized, apierr.CodeUnauthorized, err))
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID returns the authenticated caller, or nil for guests.
func UserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(userIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}

// ServiceKey guards internal endpoints with a shared key passed as
// X-Service-Key or a bearer token. An empty key disables the endpoints.
func ServiceKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Service-Key")
		if got == "" {
			got = bearer(c)
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			Abort(c, apierr.Unauthorized("invalid service key"))
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if t := bearer(c); t != "" {
		return t
	}
	// browsers cannot set headers on websocket upgrades
	return c.Query("token")
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Abort renders err in the API error envelope.
func Abort(c *gin.Context, err error) {
	e := apierr.As(err)
	msg := "internal error"
	if e.Err != nil && e.Code != apierr.CodeInternal {
		msg = e.Err.Error()
	}
	c.AbortWithStatusJSON(e.Status, gin.H{"error": gin.H{"message": msg, "code": e.Code}})
}
