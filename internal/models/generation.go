// internal/models/generation.go
package models

import (
	"time"

	"github.com/lib/pq"
)

type GenerationTask struct {
	BaseModel
	TaskID              string         `json:"task_id" gorm:"size:128;not null;uniqueIndex"`
	ProviderID          string         `json:"provider_id" gorm:"size:50;not null"`
	ModelID             string         `json:"model_id" gorm:"size:64;not null;index"`
	Type                GenerationType `json:"type" gorm:"type:varchar(10);not null"`
	SettlementReference string         `json:"settlement_reference" gorm:"size:128;index"`
	State               TaskState      `json:"state" gorm:"type:varchar(20);not null;index"`
	ResultURLs          pq.StringArray `json:"result_urls" gorm:"type:text"`
	ErrorCode           string         `json:"error_code,omitempty" gorm:"size:64"`
	ErrorMessage        string         `json:"error_message,omitempty" gorm:"type:text"`
	LastPolledAt        *time.Time     `json:"last_polled_at"`
	CompletedAt         *time.Time     `json:"completed_at"`
}
