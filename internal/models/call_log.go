package models

import (
	"time"

	"github.com/google/uuid"
)

// One relayed /proxy request
type CallLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time  `gorm:"index" json:"timestamp"`
	RequestID      string     `gorm:"size:64" json:"request_id"`
	APIKeyID       *uuid.UUID `gorm:"type:uuid;index" json:"api_key_id,omitempty"`
	Route          string     `gorm:"index;size:64" json:"route"`
	Method         string     `gorm:"size:8" json:"method"`
	Path           string     `json:"path"`
	StatusCode     int        `gorm:"index" json:"status_code"`
	ResponseTimeMs int        `json:"response_time_ms"`
	ClientIP       string     `gorm:"size:64" json:"client_ip"`
	UserAgent      string     `json:"user_agent"`
}

func (CallLog) TableName() string {
	return "call_logs"
}
