package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerSecret(t *testing.T) {
	e := echo.New()
	e.GET("/open", ok, BearerSecretMiddleware(""))
	e.GET("/closed", ok, BearerSecretMiddleware("s3cret"))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/closed", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/closed", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/closed", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(e, req).Code)
}

func TestRequiredBearer(t *testing.T) {
	e := echo.New()
	e.GET("/unset", ok, RequiredBearerMiddleware(""))
	e.GET("/set", ok, RequiredBearerMiddleware("adm1n"))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/unset", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	// an empty bearer must not match an empty secret
	req := httptest.NewRequest(http.MethodGet, "/unset", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/set", nil)
	req.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/set", nil)
	req.Header.Set("Authorization", "Bearer adm1n")
	assert.Equal(t, http.StatusOK, serve(e, req).Code)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := echo.New()
	e.GET("/x", ok, RateLimitMiddleware(RateLimitConfig{
		Redis:          rdb,
		RPS:            2,
		RetryAfterHint: true,
		Now:            func() time.Time { return now },
	}))

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestRateLimit_DisabledWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/x", ok, RateLimitMiddleware(RateLimitConfig{RPS: 1}))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
}
