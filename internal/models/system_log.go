package models

import "time"

// LogCategory classifies system log entries.
type LogCategory string

const (
	LogSecurity    LogCategory = "SECURITY"
	LogTraffic     LogCategory = "TRAFFIC"
	LogData        LogCategory = "DATA"
	LogDestruction LogCategory = "DESTRUCTION"
)

// SystemLogModel is the append-only audit log. Entries are never mutated or
// deleted by the pipeline.
type SystemLogModel struct {
	ID          uint                   `json:"-"           gorm:"primaryKey;autoIncrement"`
	Actor       string                 `json:"actor"       gorm:"index;not null"`
	Category    LogCategory            `json:"category"    gorm:"index;not null"`
	Event       string                 `json:"event"       gorm:"index;not null"`
	Description string                 `json:"description" gorm:"type:text"`
	Detail      map[string]interface{} `json:"detail"      gorm:"type:longtext;serializer:json"`
	Timestamp   time.Time              `json:"timestamp"   gorm:"index;autoCreateTime"`
}

func (SystemLogModel) TableName() string { return "system_logs" }
