// internal/providers/veo.go
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/javajoker/payper-backend/internal/models"
)

const (
	veoID            = "veo"
	veoProviderModel = "veo3_fast"
)

var veoSchema = optionSchema{
	"aspectRatio": {kind: kindString, enum: []string{"16:9", "9:16", "Auto"}, def: "16:9"},
	"imageUrls":   {kind: kindURLList, maxLen: 2},
}

type VeoAdapter struct {
	client *KieClient
}

func NewVeoAdapter(client *KieClient) *VeoAdapter {
	return &VeoAdapter{client: client}
}

func (a *VeoAdapter) ID() string { return veoID }

func (a *VeoAdapter) Models() []string { return []string{models.ModelVeo} }

func (a *VeoAdapter) PrepareOptions(modelID string, options Options) (Options, error) {
	if modelID != models.ModelVeo {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return veoSchema.apply(options)
}

func (a *VeoAdapter) CreateTask(ctx context.Context, modelID, prompt string, options Options) (string, error) {
	body := map[string]interface{}{
		"prompt": prompt,
		"model":  veoProviderModel,
	}
	for k, v := range options {
		body[k] = v
	}
	return a.client.createTask(ctx, veoID, "/api/v1/veo/generate", body)
}

func (a *VeoAdapter) QueryTask(ctx context.Context, taskID string) (RawStatus, error) {
	var record veoRecord
	if err := a.client.get(ctx, veoID, "/api/v1/veo/record-info", url.Values{"taskId": {taskID}}, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// veoRecord uses successFlag: 0 generating, 1 success, 2 and 3 failure.
type veoRecord struct {
	TaskID      string `json:"taskId"`
	SuccessFlag int    `json:"successFlag"`
	Response    *struct {
		ResultURLs []string `json:"resultUrls"`
	} `json:"response"`
	ErrorCode    json.RawMessage `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
}

func (r *veoRecord) ProviderID() string { return veoID }

func (r *veoRecord) Normalize() Status {
	switch r.SuccessFlag {
	case 1:
		var urls []string
		if r.Response != nil {
			urls = r.Response.ResultURLs
		}
		return Status{State: models.TaskStateCompleted, ResultURLs: urls}
	case 2, 3:
		return Status{State: models.TaskStateFailed, ErrorCode: codeString(r.ErrorCode), ErrorMessage: r.ErrorMessage}
	default:
		return Status{State: models.TaskStateProcessing}
	}
}
