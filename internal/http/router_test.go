package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelis/go-tasker-notify/internal/cliq"
	"github.com/avelis/go-tasker-notify/internal/config"
	"github.com/avelis/go-tasker-notify/internal/domain"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:routerdb?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(
		&domain.IdentityLink{},
		&domain.LinkingCode{},
		&domain.UserPreferences{},
		&domain.ProjectChannel{},
		&domain.DeliveryLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		AppBaseURL:  "https://tasker.app",
	}
}

func testCliqClient() *cliq.Client {
	return cliq.NewClient(cliq.Config{BaseURL: "http://unused"}, zerolog.Nop())
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testCliqClient(), testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://allowed.example"}
	RegisterRoutes(r, newTestDB(t), testCliqClient(), cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://allowed.example")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://allowed.example" {
		t.Fatalf("expected origin echo, got %q", got)
	}
}

func TestRegisterRoutes_EndToEnd_LinkingFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testCliqClient(), testConfig())

	post := func(path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	// Issue a code from the app side.
	w := post("/api/v1/link/code", gin.H{"app_user_id": "u1", "app_email": "u1@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue code: %d body=%s", w.Code, w.Body.String())
	}
	var issued struct {
		Code            string `json:"code"`
		ChallengeNumber int    `json:"challenge_number"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Confirm the challenge.
	w = post("/api/v1/link/code/"+issued.Code+"/verify", gin.H{
		"app_user_id": "u1", "challenge": issued.ChallengeNumber,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("verify: %d body=%s", w.Code, w.Body.String())
	}

	// Consume the code from the chat side.
	w = post("/api/v1/link", gin.H{"code": issued.Code, "chat_user_id": "chat-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("link: %d body=%s", w.Code, w.Body.String())
	}

	// The active link is now readable.
	wr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/link/u1", nil)
	r.ServeHTTP(wr, req)
	if wr.Code != http.StatusOK {
		t.Fatalf("get link: %d body=%s", wr.Code, wr.Body.String())
	}
	var link domain.IdentityLink
	if err := json.Unmarshal(wr.Body.Bytes(), &link); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if link.ChatUserID != "chat-1" || link.AppUserID != "u1" || !link.IsActive {
		t.Fatalf("link = %+v", link)
	}
}

func TestLimitBody_RejectsOversizedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(64))
	r.POST("/echo", func(c *gin.Context) {
		var v map[string]any
		if err := c.ShouldBindJSON(&v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, v)
	})

	big := bytes.Repeat([]byte("a"), 256)
	body, _ := json.Marshal(gin.H{"payload": string(big)})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body expected 400, got %d", w.Code)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, prefix := range []string{"", "/"} {
		r := gin.New()
		g := groupWithPrefix(r, prefix)
		g.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("prefix %q: GET /ping = %d", prefix, w.Code)
		}
	}
}
