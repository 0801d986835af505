package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testAuthService() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}, nil)
}

func tokenFor(t *testing.T, auth *service.AuthService, role model.Role) string {
	t.Helper()
	token, err := auth.GenerateToken(&model.User{ID: uuid.New(), Email: "u@example.edu", Role: role})
	require.NoError(t, err)
	return token
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestRequireJWT(t *testing.T) {
	auth := testAuthService()
	r := gin.New()
	r.GET("/me", RequireJWT(auth), func(c *gin.Context) {
		claims := GetClaims(c)
		require.NotNil(t, claims)
		c.String(http.StatusOK, string(claims.Role))
	})

	token := tokenFor(t, auth, model.RoleTeacher)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK},
		{"query fallback", "", token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := testAuthService()
	r := gin.New()
	r.GET("/teacher", RequireJWT(auth), RequireRole(model.RoleTeacher), ok)
	r.GET("/student", RequireJWT(auth), RequireRole(model.RoleStudent), ok)
	r.GET("/bare", RequireRole(model.RoleStudent), ok)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	teacher := tokenFor(t, auth, model.RoleTeacher)
	student := tokenFor(t, auth, model.RoleStudent)

	assert.Equal(t, http.StatusOK, do("/teacher", teacher).Code)
	assert.Equal(t, http.StatusOK, do("/student", student).Code)

	w := do("/teacher", student)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "TEACHER_ACCESS_ONLY")

	w = do("/student", teacher)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "STUDENT_ACCESS_ONLY")

	assert.Equal(t, http.StatusUnauthorized, do("/bare", "").Code)
}

func TestRequireWSAuth_QueryOnly(t *testing.T) {
	auth := testAuthService()
	r := gin.New()
	r.GET("/ws", RequireWSAuth(auth), ok)

	token := tokenFor(t, auth, model.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rdb, "auth", 2, time.Minute, zerolog.Nop())
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.POST("/login", rl.Middleware(), ok)

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	w := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Budgets are per client.
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)

	// A new window resets the counter.
	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	// Counters expire with their window.
	key := config.CacheKey.RateLimitKey("auth", "10.0.0.1", now.UnixNano()/int64(time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	r := gin.New()
	r.POST("/login", NewRateLimiter(rdb, "auth", 1, time.Minute, zerolog.Nop()).Middleware(), ok)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("examily ", 512)

	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 1024}))
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "tiny") })

	get := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("compresses large bodies", func(t *testing.T) {
		w := get("/large", "gzip, br")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "br", w.Header().Get("Content-Encoding"))

		body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
		require.NoError(t, err)
		assert.Equal(t, large, string(body))
	})

	t.Run("passes small bodies through", func(t *testing.T) {
		w := get("/small", "br")
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "tiny", w.Body.String())
	})

	t.Run("respects accept-encoding", func(t *testing.T) {
		w := get("/large", "gzip")
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, large, w.Body.String())
	})
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/", NoStore(), ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
