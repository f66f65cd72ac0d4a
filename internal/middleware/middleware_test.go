package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agri-price/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		if id := UserID(c); id != nil {
			c.String(http.StatusOK, id.String())
			return
		}
		c.String(http.StatusOK, "guest")
	})
	r.GET("/x", handlers...)
	return r
}

func do(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	am := NewAuthMiddleware(logger.Nop(), "secret")
	r := newRouter(am.RequireAuth())

	w := do(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `{"error":{"code":"unauthorized","message":"missing or invalid token"}}`, w.Body.String())

	user := uuid.New()
	token, err := am.IssueToken(user, time.Hour)
	assert.Equal(t, nil, err)
	w = do(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.String(), w.Body.String())

	other := NewAuthMiddleware(logger.Nop(), "other")
	forged, _ := other.IssueToken(user, time.Hour)
	w = do(r, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, _ := am.IssueToken(user, -time.Minute)
	w = do(r, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	am := NewAuthMiddleware(logger.Nop(), "secret")
	r := newRouter(am.OptionalAuth())

	w := do(r, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guest", w.Body.String())

	user := uuid.New()
	token, _ := am.IssueToken(user, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/x?token="+token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, user.String(), w.Body.String())
}

func TestServiceKey(t *testing.T) {
	r := newRouter(ServiceKey("k1"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "X-Service-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, do(r, "X-Service-Key", "k1").Code)
	assert.Equal(t, http.StatusOK, do(r, "Authorization", "Bearer k1").Code)

	disabled := newRouter(ServiceKey(""))
	assert.Equal(t, http.StatusUnauthorized, do(disabled, "X-Service-Key", "").Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173"}))
	r.OPTIONS("/api/v1/prices", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/prices", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
