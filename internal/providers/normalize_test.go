package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/models"
)

func decodeRecord(t *testing.T, raw string, into RawStatus) RawStatus {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(raw), into))
	return into
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		record RawStatus
		want   Status
	}{
		{
			name:   "4o generating",
			record: decodeRecord(t, `{"taskId":"t","status":"GENERATING","progress":"0.40"}`, &gpt4oImageRecord{}),
			want:   Status{State: models.TaskStateProcessing},
		},
		{
			name:   "4o success",
			record: decodeRecord(t, `{"taskId":"t","status":"SUCCESS","successFlag":1,"response":{"resultUrls":["https://f.example/1.png"]}}`, &gpt4oImageRecord{}),
			want:   Status{State: models.TaskStateCompleted, ResultURLs: []string{"https://f.example/1.png"}},
		},
		{
			name:   "4o success flag without urls stays processing",
			record: decodeRecord(t, `{"taskId":"t","status":"GENERATING","successFlag":1,"response":{"resultUrls":[" "]}}`, &gpt4oImageRecord{}),
			want:   Status{State: models.TaskStateProcessing},
		},
		{
			name:   "4o failure with numeric code",
			record: decodeRecord(t, `{"taskId":"t","status":"GENERATE_FAILED","errorCode":400,"errorMessage":"content policy"}`, &gpt4oImageRecord{}),
			want:   Status{State: models.TaskStateFailed, ErrorCode: "400", ErrorMessage: "content policy"},
		},
		{
			name:   "veo success",
			record: decodeRecord(t, `{"taskId":"t","successFlag":1,"response":{"resultUrls":["https://f.example/v.mp4"]}}`, &veoRecord{}),
			want:   Status{State: models.TaskStateCompleted, ResultURLs: []string{"https://f.example/v.mp4"}},
		},
		{
			name:   "veo failure without message",
			record: decodeRecord(t, `{"taskId":"t","successFlag":3,"errorCode":"501"}`, &veoRecord{}),
			want:   Status{State: models.TaskStateFailed, ErrorCode: "501", ErrorMessage: "veo generation failed (code 501)"},
		},
		{
			name:   "veo generating",
			record: decodeRecord(t, `{"taskId":"t","successFlag":0}`, &veoRecord{}),
			want:   Status{State: models.TaskStateProcessing},
		},
		{
			name:   "jobs success",
			record: decodeRecord(t, `{"taskId":"t","state":"success","resultJson":"{\"resultUrls\":[\"https://f.example/q.png\"]}"}`, &jobsRecord{}),
			want:   Status{State: models.TaskStateCompleted, ResultURLs: []string{"https://f.example/q.png"}},
		},
		{
			name:   "jobs broken result json",
			record: decodeRecord(t, `{"taskId":"t","state":"success","resultJson":"{not json"}`, &jobsRecord{}),
			want:   Status{State: models.TaskStateProcessing},
		},
		{
			name:   "jobs failure with null code",
			record: decodeRecord(t, `{"taskId":"t","state":"fail","failCode":null,"failMsg":""}`, &jobsRecord{}),
			want:   Status{State: models.TaskStateFailed, ErrorMessage: "jobs generation failed (code unknown)"},
		},
		{
			name:   "jobs queuing",
			record: decodeRecord(t, `{"taskId":"t","state":"queuing"}`, &jobsRecord{}),
			want:   Status{State: models.TaskStateProcessing},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.record))
		})
	}
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, Status{State: models.TaskStateCompleted}.Err())

	err := Status{State: models.TaskStateFailed, ErrorCode: "422", ErrorMessage: "prompt rejected"}.Err()
	assert.True(t, errors.Is(err, ErrTaskFailed))
	assert.Equal(t, "prompt rejected (code 422)", err.Error())
}
