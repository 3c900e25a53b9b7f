// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/utils"
)

const maxAuditBody = 64 * 1024

// RequestLogger logs every request through logrus and records HTTP metrics.
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), duration.Seconds())

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}

		entry := logrus.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   duration.Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		})
		if subject, ok := utils.GetSubjectFromContext(c); ok {
			entry = entry.WithField("subject", subject)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request processed")
			return
		}
		entry.Info("Request processed")
	}
}

// AuditLogMiddleware stores mutating requests and their outcome asynchronously.
func AuditLogMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for reads
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		// Read the head of the body for the audit record; handlers still get all of it
		var requestBody []byte
		if body := c.Request.Body; body != nil {
			requestBody, _ = io.ReadAll(io.LimitReader(body, maxAuditBody))
			c.Request.Body = readCloser{
				Reader: io.MultiReader(bytes.NewReader(requestBody), body),
				Closer: body,
			}
		}

		c.Next()

		var requestData map[string]interface{}
		if len(requestBody) > 0 {
			json.Unmarshal(requestBody, &requestData)
		}

		actor := "anonymous"
		if subject, ok := utils.GetSubjectFromContext(c); ok && subject != "" {
			actor = subject
		}

		auditLog := &models.AuditLog{
			Actor:        actor,
			Action:       c.Request.Method + " " + c.Request.URL.Path,
			ResourceType: extractResourceType(c.Request.URL.Path),
			ResourceID:   extractResourceID(requestData),
			StatusCode:   c.Writer.Status(),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			NewValues:    models.JSONB(requestData),
		}

		// Save audit log asynchronously
		go func() {
			if err := db.Create(auditLog).Error; err != nil {
				logrus.WithError(err).Error("Failed to create audit log")
			}
		}()
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

// extractResourceID picks the payment reference or generation id out of a request body.
func extractResourceID(body map[string]interface{}) string {
	for _, key := range []string{"settlementReference", "reference", "generationId"} {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
