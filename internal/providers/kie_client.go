// internal/providers/kie_client.go
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/config"
)

// KieClient speaks the Kie.ai envelope: {"code": 200, "msg": "...", "data": {...}}.
type KieClient struct {
	baseURL     string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
}

func NewKieClient(cfg config.ProvidersConfig, httpClient *http.Client) *KieClient {
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &KieClient{
		baseURL:     strings.TrimRight(cfg.KieBaseURL, "/"),
		apiKey:      cfg.KieAPIKey,
		callbackURL: cfg.CallbackURL,
		httpClient:  httpClient,
	}
}

type kieEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type kieCreateData struct {
	TaskID string `json:"taskId"`
}

func (c *KieClient) post(ctx context.Context, provider, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, provider, out)
}

func (c *KieClient) get(ctx context.Context, provider, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, provider, out)
}

func (c *KieClient) do(req *http.Request, provider string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
	}
	defer resp.Body.Close()

	var env kieEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 500 || (decodeErr != nil && resp.StatusCode != http.StatusOK) {
		return &ProviderError{Provider: provider, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s: failed to decode response: %v", ErrProviderUnavailable, provider, decodeErr)
	}
	if env.Code != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"provider": provider,
			"path":     req.URL.Path,
			"code":     env.Code,
			"msg":      env.Msg,
		}).Warn("Provider rejected request")
		return &ProviderError{Provider: provider, Code: env.Code, Message: env.Msg}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &ProviderError{Provider: provider, Code: env.Code, Message: "empty data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: failed to decode data: %v", ErrProviderUnavailable, provider, err)
	}
	return nil
}

// createTask posts a creation body and returns the provider task id.
func (c *KieClient) createTask(ctx context.Context, provider, path string, body map[string]interface{}) (string, error) {
	if c.callbackURL != "" {
		body["callBackUrl"] = c.callbackURL
	}

	var data kieCreateData
	if err := c.post(ctx, provider, path, body, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", &ProviderError{Provider: provider, Code: http.StatusOK, Message: "missing task id"}
	}
	return data.TaskID, nil
}

// codeString renders an error code that providers send as number, string or null.
func codeString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
