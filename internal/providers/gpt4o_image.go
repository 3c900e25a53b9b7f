// internal/providers/gpt4o_image.go
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/javajoker/payper-backend/internal/models"
)

const gpt4oImageID = "gpt4o-image"

var gpt4oImageSchema = optionSchema{
	"size":      {kind: kindString, enum: []string{"1:1", "3:2", "2:3"}, def: "1:1"},
	"nVariants": {kind: kindInt, min: 1, max: 4, def: int64(1)},
	"filesUrl":  {kind: kindURLList, maxLen: 5},
}

// GPT4oImageAdapter serves gpt-image-1 through the 4o image endpoints.
type GPT4oImageAdapter struct {
	client *KieClient
}

func NewGPT4oImageAdapter(client *KieClient) *GPT4oImageAdapter {
	return &GPT4oImageAdapter{client: client}
}

func (a *GPT4oImageAdapter) ID() string { return gpt4oImageID }

func (a *GPT4oImageAdapter) Models() []string { return []string{models.ModelGPTImage} }

func (a *GPT4oImageAdapter) PrepareOptions(modelID string, options Options) (Options, error) {
	if modelID != models.ModelGPTImage {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	out, err := gpt4oImageSchema.apply(options)
	if err != nil {
		return nil, err
	}
	if n, ok := out["nVariants"].(int64); ok && n != 1 && n != 2 && n != 4 {
		return nil, fmt.Errorf("%w: nVariants must be 1, 2 or 4", ErrInvalidOptions)
	}
	return out, nil
}

func (a *GPT4oImageAdapter) CreateTask(ctx context.Context, modelID, prompt string, options Options) (string, error) {
	body := map[string]interface{}{"prompt": prompt}
	for k, v := range options {
		body[k] = v
	}
	return a.client.createTask(ctx, gpt4oImageID, "/api/v1/gpt4o-image/generate", body)
}

func (a *GPT4oImageAdapter) QueryTask(ctx context.Context, taskID string) (RawStatus, error) {
	var record gpt4oImageRecord
	err := a.client.get(ctx, gpt4oImageID, "/api/v1/gpt4o-image/record-info", url.Values{"taskId": {taskID}}, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

type gpt4oImageRecord struct {
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	SuccessFlag int    `json:"successFlag"`
	Progress    string `json:"progress"`
	Response    *struct {
		ResultURLs []string `json:"resultUrls"`
	} `json:"response"`
	ErrorCode    json.RawMessage `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
}

func (r *gpt4oImageRecord) ProviderID() string { return gpt4oImageID }

func (r *gpt4oImageRecord) Normalize() Status {
	switch {
	case r.Status == "CREATE_TASK_FAILED" || r.Status == "GENERATE_FAILED":
		return Status{State: models.TaskStateFailed, ErrorCode: codeString(r.ErrorCode), ErrorMessage: r.ErrorMessage}
	case r.Status == "SUCCESS" || r.SuccessFlag == 1:
		var urls []string
		if r.Response != nil {
			urls = r.Response.ResultURLs
		}
		return Status{State: models.TaskStateCompleted, ResultURLs: urls}
	default:
		return Status{State: models.TaskStateProcessing}
	}
}
