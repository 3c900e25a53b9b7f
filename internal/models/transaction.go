// internal/models/transaction.go
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementRecord tracks one on-chain payment reference. Reference is unique, which is
// what makes a claim an atomic check-and-set across instances.
type SettlementRecord struct {
	BaseModel
	Reference         string            `json:"reference" gorm:"size:128;not null;uniqueIndex"`
	GenerationID      string            `json:"generation_id" gorm:"size:64;index"`
	ModelID           string            `json:"model_id" gorm:"size:64;not null"`
	AmountUSD         decimal.Decimal   `json:"amount_usd" gorm:"type:decimal(20,8);not null"`
	ExpectedRawAmount int64             `json:"expected_raw_amount" gorm:"not null"`
	ObservedRawAmount int64             `json:"observed_raw_amount"`
	Outcome           SettlementOutcome `json:"outcome" gorm:"type:varchar(20);not null;index"`
	Detail            string            `json:"detail,omitempty" gorm:"type:text"`
	Request           JSONB             `json:"request,omitempty" gorm:"type:jsonb"`
	TaskID            string            `json:"task_id,omitempty" gorm:"size:128;index"`
	ClaimToken        string            `json:"-" gorm:"size:64"`
	ClaimedAt         time.Time         `json:"claimed_at"`
	VerifiedAt        *time.Time        `json:"verified_at"`
}

// StartTokenPrefix marks a task id reserved by a generation start still in flight.
const StartTokenPrefix = "pending:"

// StartedTaskID is the provider task id, or empty while no task exists.
func (r *SettlementRecord) StartedTaskID() string {
	if strings.HasPrefix(r.TaskID, StartTokenPrefix) {
		return ""
	}
	return r.TaskID
}

// GenerationRequest is what a paid reference entitles the caller to run.
type GenerationRequest struct {
	ModelID string                 `json:"modelId"`
	Type    GenerationType         `json:"type"`
	Prompt  string                 `json:"prompt"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// JSONB snapshot stored on the settlement row.
func (r GenerationRequest) JSONB() JSONB {
	out := JSONB{
		"modelId": r.ModelID,
		"type":    string(r.Type),
		"prompt":  r.Prompt,
	}
	if len(r.Options) > 0 {
		out["options"] = r.Options
	}
	return out
}

// GenerationRequestFromJSONB is the inverse of GenerationRequest.JSONB.
func GenerationRequestFromJSONB(j JSONB) GenerationRequest {
	var req GenerationRequest
	if v, ok := j["modelId"].(string); ok {
		req.ModelID = v
	}
	if v, ok := j["type"].(string); ok {
		req.Type = GenerationType(v)
	}
	if v, ok := j["prompt"].(string); ok {
		req.Prompt = v
	}
	if v, ok := j["options"].(map[string]interface{}); ok {
		req.Options = v
	}
	return req
}

// PendingPayment is an issued but unpaid challenge. It is not persisted in the database.
type PendingPayment struct {
	GenerationID string            `json:"generationId"`
	Request      GenerationRequest `json:"request"`
	AmountUSD    decimal.Decimal   `json:"amountUSD"`
	Split        FeeSplit          `json:"split"`
	RawAmount    int64             `json:"rawAmount"`
	CreatedAt    time.Time         `json:"createdAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

func (p *PendingPayment) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
