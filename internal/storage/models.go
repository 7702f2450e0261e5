// Package storage persists usage records and serves the recent-usage cache
package storage

import (
	"time"

	"gorm.io/gorm"
)

// UsageRecord is the persisted form of a usage event
type UsageRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RequestID    string    `json:"request_id" gorm:"index"`
	TaskType     string    `json:"task_type" gorm:"index"`
	ProviderID   string    `json:"provider_id" gorm:"index"`
	ModelID      string    `json:"model_id"`
	TokensIn     int       `json:"tokens_in" gorm:"default:0"`
	TokensOut    int       `json:"tokens_out" gorm:"default:0"`
	CostUsd      float64   `json:"cost_usd" gorm:"default:0"`
	LatencyMs    int64     `json:"latency_ms"`
	FallbackUsed bool      `json:"fallback_used" gorm:"default:false"`
	RetryCount   int       `json:"retry_count" gorm:"default:0"`
	FinalStatus  string    `json:"final_status" gorm:"index"`
	Streamed     bool      `json:"streamed" gorm:"default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

func (r *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}
