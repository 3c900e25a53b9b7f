// internal/services/generation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/providers"
)

const rehostTimeout = 3 * time.Minute

// GenerationService creates provider tasks and serves their normalized status.
type GenerationService struct {
	db        *gorm.DB
	registry  *providers.Registry
	catalog   *models.Catalog
	artifacts ArtifactStore
	metrics   *metrics.Metrics
	finalize  singleflight.Group
	now       func() time.Time
}

func NewGenerationService(db *gorm.DB, registry *providers.Registry, catalog *models.Catalog, artifacts ArtifactStore, m *metrics.Metrics) *GenerationService {
	return &GenerationService{
		db:        db,
		registry:  registry,
		catalog:   catalog,
		artifacts: artifacts,
		metrics:   m,
		now:       time.Now,
	}
}

// Validate checks a request before anyone is asked to pay for it.
func (s *GenerationService) Validate(req models.GenerationRequest) (models.ModelInfo, error) {
	info, ok := s.catalog.Get(req.ModelID)
	if !ok {
		return models.ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, req.ModelID)
	}
	if req.Type != "" && req.Type != info.Type {
		return models.ModelInfo{}, fmt.Errorf("%w: %s generates %s, not %s", providers.ErrInvalidOptions, info.ID, info.Type, req.Type)
	}

	adapter, err := s.registry.ForModel(req.ModelID)
	if err != nil {
		return models.ModelInfo{}, fmt.Errorf("%w: %v", ErrUnknownModel, err)
	}
	if _, err := adapter.PrepareOptions(req.ModelID, providers.Options(req.Options)); err != nil {
		return models.ModelInfo{}, err
	}
	return info, nil
}

// UnservedModels lists catalog models no registered adapter can run.
func (s *GenerationService) UnservedModels() []string {
	var missing []string
	for _, info := range s.catalog.List() {
		if !s.registry.Supports(info.ID) {
			missing = append(missing, info.ID)
		}
	}
	return missing
}

// Start creates one provider task. Creation is never retried here; a failed call
// leaves nothing behind and may be repeated by the caller.
func (s *GenerationService) Start(ctx context.Context, req models.GenerationRequest, settlementReference string) (*models.GenerationTask, error) {
	info, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.ForModel(req.ModelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownModel, err)
	}
	options, err := adapter.PrepareOptions(req.ModelID, providers.Options(req.Options))
	if err != nil {
		return nil, err
	}

	taskID, err := adapter.CreateTask(ctx, req.ModelID, req.Prompt, options)
	s.metrics.ProviderCreate(adapter.ID(), err == nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"provider":  adapter.ID(),
			"model":     req.ModelID,
			"reference": settlementReference,
		}).WithError(err).Error("Failed to create generation task")
		return nil, fmt.Errorf("failed to create generation task: %w", err)
	}

	task := &models.GenerationTask{
		TaskID:              taskID,
		ProviderID:          adapter.ID(),
		ModelID:             req.ModelID,
		Type:                info.Type,
		SettlementReference: settlementReference,
		State:               models.TaskStateProcessing,
	}
	// The provider task exists and is paid for whether or not the caller is still waiting.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(task).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"task_id":   taskID,
			"provider":  adapter.ID(),
			"model":     req.ModelID,
			"reference": settlementReference,
		}).WithError(err).Error("Provider task created but not recorded, task is orphaned")
		return nil, fmt.Errorf("failed to record generation task %s: %w", taskID, err)
	}

	logrus.WithFields(logrus.Fields{
		"task_id":  taskID,
		"provider": adapter.ID(),
		"model":    req.ModelID,
	}).Info("Generation task created")
	return task, nil
}

// FindTask loads a task by its provider id.
func (s *GenerationService) FindTask(ctx context.Context, taskID string) (*models.GenerationTask, error) {
	var task models.GenerationTask
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to load generation task: %w", err)
	}
	return &task, nil
}

// Poll returns the task's current state. Terminal tasks are served from the database;
// only tasks this service created can be polled.
func (s *GenerationService) Poll(ctx context.Context, taskID, modelID string) (*models.GenerationTask, error) {
	task, err := s.FindTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if modelID != "" && modelID != task.ModelID {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if task.State.Terminal() {
		s.touch(ctx, task)
		return task, nil
	}

	adapter, err := s.registry.ForModel(task.ModelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownModel, err)
	}
	raw, err := adapter.QueryTask(ctx, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation task: %w", err)
	}

	status := providers.Normalize(raw)
	s.metrics.ProviderPoll(adapter.ID(), string(status.State))

	if !status.State.Terminal() {
		s.touch(ctx, task)
		return task, nil
	}
	return s.complete(ctx, task, status)
}

func (s *GenerationService) touch(ctx context.Context, task *models.GenerationTask) {
	now := s.now()
	err := s.db.WithContext(ctx).Model(&models.GenerationTask{}).
		Where("id = ?", task.ID).
		UpdateColumn("last_polled_at", now).Error
	if err != nil {
		logrus.WithError(err).WithField("task_id", task.TaskID).Warn("Failed to record poll time")
		return
	}
	task.LastPolledAt = &now
}

// complete writes the first terminal observation. Concurrent pollers share one
// rehost and one write; a later poller reads what was stored.
func (s *GenerationService) complete(ctx context.Context, task *models.GenerationTask, status providers.Status) (*models.GenerationTask, error) {
	v, err, _ := s.finalize.Do(task.TaskID, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rehostTimeout)
		defer cancel()

		current, err := s.FindTask(workCtx, task.TaskID)
		if err != nil {
			return nil, err
		}
		if current.State.Terminal() {
			return current, nil
		}

		urls := status.ResultURLs
		if status.State == models.TaskStateCompleted && s.artifacts != nil {
			hosted, err := s.artifacts.Rehost(workCtx, task.TaskID, urls)
			if err != nil {
				logrus.WithError(err).WithField("task_id", task.TaskID).Warn("Artifact rehost failed, serving provider URLs")
			} else if len(hosted) > 0 {
				urls = hosted
			}
		}
		if status.State == models.TaskStateFailed {
			logrus.WithFields(logrus.Fields{
				"task_id":  task.TaskID,
				"provider": task.ProviderID,
			}).WithError(status.Err()).Warn("Generation task failed")
		}

		now := s.now()
		res := s.db.WithContext(workCtx).Model(&models.GenerationTask{}).
			Where("id = ? AND state IN ?", current.ID, []models.TaskState{models.TaskStateCreated, models.TaskStateProcessing}).
			Updates(map[string]interface{}{
				"state":          status.State,
				"result_urls":    pq.StringArray(urls),
				"error_code":     status.ErrorCode,
				"error_message":  status.ErrorMessage,
				"completed_at":   now,
				"last_polled_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to record task result: %w", res.Error)
		}

		return s.FindTask(workCtx, task.TaskID)
	})
	if err != nil {
		return nil, err
	}

	stored := *v.(*models.GenerationTask)
	return &stored, nil
}
