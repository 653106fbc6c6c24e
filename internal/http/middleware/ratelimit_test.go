package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestKeyByCallerOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	keyFn := KeyByCallerOrIP()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Caller-ID", " taskapp ")
	if got := keyFn(c); got != "caller:taskapp" {
		t.Fatalf("caller key = %q", got)
	}

	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c2.Request.RemoteAddr = "203.0.113.7:1234"
	if got := keyFn(c2); got != "ip:203.0.113.7" {
		t.Fatalf("ip key = %q", got)
	}
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// rps 0 so tokens never refill inside the test: exactly burst requests pass.
	rl := NewRateLimiter(0, 2, KeyByCallerOrIP())
	r.Use(rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	do := func(caller string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Caller-ID", caller)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if do("a") != http.StatusOK || do("a") != http.StatusOK {
		t.Fatalf("burst requests should pass")
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Caller-ID", "a")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted bucket expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After missing")
	}

	// A different caller has its own bucket.
	if do("b") != http.StatusOK {
		t.Fatalf("independent keys must not share buckets")
	}
}

func TestRateLimiter_BurstCoercedToOne(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyByCallerOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst <= 0 must coerce to 1, got %d", rl.burst)
	}
}
