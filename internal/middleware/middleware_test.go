package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvemundi/attendance/internal/auth"
	"github.com/salvemundi/attendance/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:5000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_IPWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, nil)
	r := gin.New()
	r.POST("/scan", rl.Limit("checkin", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	key := "ratelimit:checkin:ip:192.0.2.10"
	for i, fresh := range []bool{true, false, false} {
		expectHit(mock, key, int64(i+1), fresh)
	}

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/scan", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/scan", "").Code)
	w := serve(r, http.MethodPost, "/scan", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectHit(mock redismock.ClientMock, key string, count int64, fresh bool) {
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(count)
	mock.ExpectExpireNX(key, time.Minute).SetVal(fresh)
	mock.ExpectTxPipelineExec()
}

func TestRateLimit_KeyWithoutTTLGetsExpiryOnNextHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := gin.New()
	r.POST("/scan", NewRateLimiter(db, nil).Limit("checkin", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	// A counter left behind without a TTL is over the limit, but the same transaction
	// still sets its expiry so the client is not locked out for good.
	key := "ratelimit:checkin:ip:192.0.2.10"
	expectHit(mock, key, 7, true)

	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/scan", "").Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimit_KeyedByUser(t *testing.T) {
	db, mock := redismock.NewClientMock()
	jwtSvc := auth.NewJWTService("secret", 1, "attendance")
	id := uuid.New()
	token, err := jwtSvc.Generate(id, "door@example.com", string(models.RoleStaff))
	require.NoError(t, err)

	r := gin.New()
	r.POST("/scan", JWT(jwtSvc), NewRateLimiter(db, nil).Limit("checkin", 5, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	key := "ratelimit:checkin:user:" + id.String()
	expectHit(mock, key, 2, false)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/scan", token).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimit_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := gin.New()
	r.POST("/scan", NewRateLimiter(db, nil).Limit("checkin", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:checkin:ip:192.0.2.10").SetErr(errors.New("connection refused"))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/scan", "").Code)
}

func TestJWT(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1, "attendance")
	id := uuid.New()
	token, err := jwtSvc.Generate(id, "a@example.com", string(models.RoleAdmin))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/strict", JWT(jwtSvc), func(c *gin.Context) {
		got, _ := UserID(c)
		c.String(http.StatusOK, got.String())
	})
	r.GET("/optional", OptionalJWT(jwtSvc), func(c *gin.Context) {
		_, ok := UserID(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/strict", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/strict", "garbage").Code)
	w := serve(r, http.MethodGet, "/strict", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	w = serve(r, http.MethodGet, "/optional", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
	w = serve(r, http.MethodGet, "/optional", token)
	assert.JSONEq(t, `{"authenticated":true}`, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/optional", "garbage").Code)
}

func TestRequireRole(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1, "attendance")
	admin, _ := jwtSvc.Generate(uuid.New(), "a@example.com", string(models.RoleAdmin))
	staff, _ := jwtSvc.Generate(uuid.New(), "s@example.com", string(models.RoleStaff))

	r := gin.New()
	r.POST("/auth/users", JWT(jwtSvc), RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusCreated) })

	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/auth/users", admin).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/auth/users", staff).Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://scan.example.com, http://localhost:3000/"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
