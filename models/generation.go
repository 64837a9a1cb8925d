package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus is the terminal outcome of one GenerateText call
type GenerationStatus string

const (
	GenerationStatusSucceeded GenerationStatus = "succeeded"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// GenerationRecord is the persisted outcome of one orchestrated generation
type GenerationRecord struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	RequestID string           `json:"request_id" db:"request_id"`
	Status    GenerationStatus `json:"status" db:"status"`

	// Provider that produced the result; empty when every attempt failed
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`

	Attempts    int     `json:"attempts" db:"attempts"`
	PromptChars int     `json:"prompt_chars" db:"prompt_chars"`
	TokensUsed  int     `json:"tokens_used" db:"tokens_used"`
	Cost        float64 `json:"cost" db:"cost"`
	LatencyMs   int64   `json:"latency_ms" db:"latency_ms"`

	ErrorType    *string `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the GenerationRecord model
func (GenerationRecord) TableName() string {
	return "generation_records"
}

// NewGenerationRecord creates a record stamped with a fresh ID and the current time
func NewGenerationRecord(requestID string, status GenerationStatus) *GenerationRecord {
	return &GenerationRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// SetError records the error classification and message
func (r *GenerationRecord) SetError(errType, message string) {
	if errType != "" {
		r.ErrorType = &errType
	}
	if message != "" {
		r.ErrorMessage = &message
	}
}

// ProviderUsageSummary aggregates generation records for one provider
type ProviderUsageSummary struct {
	Provider     string  `json:"provider" db:"provider"`
	Requests     int64   `json:"requests" db:"requests"`
	Failures     int64   `json:"failures" db:"failures"`
	TotalTokens  int64   `json:"total_tokens" db:"total_tokens"`
	TotalCost    float64 `json:"total_cost" db:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms" db:"avg_latency_ms"`
}
