// internal/models/buyback.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuybackContribution is the fee cut of one verified settlement.
type BuybackContribution struct {
	BaseModel
	SourceReference string          `json:"source_reference" gorm:"size:128;not null;uniqueIndex"`
	AmountUSD       decimal.Decimal `json:"amount_usd" gorm:"type:decimal(20,8);not null"`
	EnqueuedAt      time.Time       `json:"enqueued_at" gorm:"not null;index"`
	Status          BuybackStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	BatchID         *uuid.UUID      `json:"batch_id,omitempty" gorm:"type:uuid;index"`

	Batch *BuybackBatch `json:"batch,omitempty" gorm:"foreignKey:BatchID"`
}

type BuybackBatch struct {
	BaseModel
	ContributionCount int             `json:"contribution_count"`
	TotalUSD          decimal.Decimal `json:"total_usd" gorm:"type:decimal(20,8);not null"`
	NativePriceUSD    decimal.Decimal `json:"native_price_usd" gorm:"type:decimal(20,8)"`
	AmountNative      decimal.Decimal `json:"amount_native" gorm:"type:decimal(20,9)"`
	Attempts          int             `json:"attempts"`
	Status            BuybackStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	TxSignature       string          `json:"tx_signature,omitempty" gorm:"size:128"`
	LastError         string          `json:"last_error,omitempty" gorm:"type:text"`
	ExecutedAt        *time.Time      `json:"executed_at"`
}

// BuybackStats summarizes the queue for the admin API.
type BuybackStats struct {
	Queued          int64           `json:"queued"`
	Executed        int64           `json:"executed"`
	Failed          int64           `json:"failed"`
	ExecutedUSD     decimal.Decimal `json:"executed_usd"`
	ExecutedBatches int64           `json:"executed_batches"`
	FailedBatches   int64           `json:"failed_batches"`
	QueueDepth      int             `json:"queue_depth"`
}
