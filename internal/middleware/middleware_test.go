package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/database"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(PerMinute(1), 2)
	engine := gin.New()
	engine.Use(rl.Middleware())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(engine, req).Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2"))
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(PerSecond(5), 0)
	rl.now = func() time.Time { return now }

	rl.getVisitor("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.getVisitor("10.0.0.2")
	assert.Equal(t, 0, rl.cleanup())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, rl.cleanup())
	assert.Len(t, rl.visitors, 1)
	assert.Equal(t, 1, rl.burst)
}

func TestAdminRequired(t *testing.T) {
	manager := utils.NewJWTManager("secret", "payper")
	engine := gin.New()
	engine.GET("/admin", AdminRequired(manager), func(c *gin.Context) {
		subject, _ := utils.GetSubjectFromContext(c)
		c.String(http.StatusOK, subject)
	})

	adminToken, err := manager.GenerateJWT("ops", utils.RoleAdmin, time.Hour)
	require.NoError(t, err)
	viewerToken, err := manager.GenerateJWT("viewer", "viewer", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", status: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + viewerToken, status: http.StatusForbidden},
		{name: "admin", header: "Bearer " + adminToken, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(engine, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestCORSExposesChallengeHeader(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS(config.CORSConfig{AllowedOrigins: []string{"https://app.payper.example"}}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.payper.example")
	w := serve(engine, req)
	assert.Equal(t, "https://app.payper.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Expose-Headers")), "www-authenticate")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(engine, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditLogMiddleware(t *testing.T) {
	db, err := database.OpenInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	engine := gin.New()
	engine.Use(AuditLogMiddleware(db))
	engine.POST("/v1/generate", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.Data(http.StatusOK, "application/octet-stream", body)
	})

	t.Run("handler reads the whole body", func(t *testing.T) {
		payload := bytes.Repeat([]byte("x"), maxAuditBody+4096)
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(payload))
		w := serve(engine, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, w.Body.Bytes())
	})

	t.Run("request is audited", func(t *testing.T) {
		body := `{"modelId":"veo-3.1","settlementReference":"sig-1"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
		w := serve(engine, req)
		assert.Equal(t, body, w.Body.String())

		assert.Eventually(t, func() bool {
			var n int64
			db.Model(&models.AuditLog{}).Where("resource_id = ?", "sig-1").Count(&n)
			return n == 1
		}, 2*time.Second, 10*time.Millisecond)

		var entry models.AuditLog
		require.NoError(t, db.Where("resource_id = ?", "sig-1").First(&entry).Error)
		assert.Equal(t, "POST /v1/generate", entry.Action)
		assert.Equal(t, "generate", entry.ResourceType)
		assert.Equal(t, "anonymous", entry.Actor)
	})
}

func TestExtractResource(t *testing.T) {
	assert.Equal(t, "generate", extractResourceType("/v1/generate"))
	assert.Equal(t, "health", extractResourceType("/health"))
	assert.Equal(t, "unknown", extractResourceType("/"))

	assert.Equal(t, "sig", extractResourceID(map[string]interface{}{"settlementReference": "sig", "generationId": "gen"}))
	assert.Equal(t, "gen", extractResourceID(map[string]interface{}{"generationId": "gen"}))
	assert.Equal(t, "", extractResourceID(nil))
}
