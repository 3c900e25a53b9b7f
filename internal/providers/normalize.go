// internal/providers/normalize.go
package providers

import (
	"fmt"
	"strings"

	"github.com/javajoker/payper-backend/internal/models"
)

// Normalize maps a raw provider record onto Status and enforces the shared rules:
// completed needs at least one usable URL, failed always carries a message, and
// anything else is processing.
func Normalize(raw RawStatus) Status {
	s := raw.Normalize()

	switch s.State {
	case models.TaskStateCompleted:
		urls := make([]string, 0, len(s.ResultURLs))
		for _, u := range s.ResultURLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			return Status{State: models.TaskStateProcessing}
		}
		return Status{State: models.TaskStateCompleted, ResultURLs: urls}

	case models.TaskStateFailed:
		code := strings.TrimSpace(s.ErrorCode)
		msg := strings.TrimSpace(s.ErrorMessage)
		if msg == "" {
			shown := code
			if shown == "" {
				shown = "unknown"
			}
			msg = fmt.Sprintf("%s generation failed (code %s)", raw.ProviderID(), shown)
		}
		return Status{State: models.TaskStateFailed, ErrorCode: code, ErrorMessage: msg}

	default:
		return Status{State: models.TaskStateProcessing}
	}
}
