// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns the id client side so sqlite and postgres behave the same.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type GenerationType string

const (
	GenerationTypeImage GenerationType = "image"
	GenerationTypeVideo GenerationType = "video"
)

type SettlementOutcome string

const (
	SettlementOutcomeVerifying  SettlementOutcome = "verifying"
	SettlementOutcomeVerified   SettlementOutcome = "verified"
	SettlementOutcomeNotFound   SettlementOutcome = "not_found"
	SettlementOutcomeFailed     SettlementOutcome = "failed"
	SettlementOutcomeMismatched SettlementOutcome = "mismatched"
)

// Terminal reports whether the outcome is final for its reference.
func (o SettlementOutcome) Terminal() bool {
	switch o {
	case SettlementOutcomeVerified, SettlementOutcomeFailed, SettlementOutcomeMismatched:
		return true
	}
	return false
}

type TaskState string

const (
	TaskStateCreated    TaskState = "created"
	TaskStateProcessing TaskState = "processing"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

type BuybackStatus string

const (
	BuybackStatusQueued   BuybackStatus = "queued"
	BuybackStatusBatched  BuybackStatus = "batched"
	BuybackStatusExecuted BuybackStatus = "executed"
	BuybackStatusFailed   BuybackStatus = "failed"
)
