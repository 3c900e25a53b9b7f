// internal/providers/adapter.go
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/javajoker/payper-backend/internal/models"
)

var (
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	ErrInvalidOptions      = errors.New("invalid generation options")
	ErrTaskFailed          = errors.New("generation task failed")
	ErrUnknownModel        = errors.New("no provider serves this model")
)

// Options are provider input parameters, already merged with defaults.
type Options map[string]interface{}

// Status is the provider-neutral view of a task.
type Status struct {
	State        models.TaskState `json:"state"`
	ResultURLs   []string         `json:"resultUrls,omitempty"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// Err returns a *TaskError for failed statuses and nil otherwise.
func (s Status) Err() error {
	if s.State != models.TaskStateFailed {
		return nil
	}
	return &TaskError{Code: s.ErrorCode, Message: s.ErrorMessage}
}

// RawStatus is one provider's status record in its own vocabulary.
type RawStatus interface {
	ProviderID() string
	Normalize() Status
}

// Adapter creates and queries tasks on one provider API family.
type Adapter interface {
	ID() string
	Models() []string
	PrepareOptions(modelID string, options Options) (Options, error)
	CreateTask(ctx context.Context, modelID, prompt string, options Options) (string, error)
	QueryTask(ctx context.Context, taskID string) (RawStatus, error)
}

// ProviderError carries a provider's envelope code. It wraps ErrProviderUnavailable.
type ProviderError struct {
	Provider string
	Code     int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: code %d: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderUnavailable
}

// TaskError describes a task the provider reported as failed. It wraps ErrTaskFailed.
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
}

func (e *TaskError) Unwrap() error {
	return ErrTaskFailed
}
