package model

import (
	"time"

	"gorm.io/datatypes"
)

// Operation is the kind of call a usage log entry describes
type Operation string

const (
	OperationIndex     Operation = "index"
	OperationBulkIndex Operation = "bulk_index"
	OperationSearch    Operation = "search"
	OperationDelete    Operation = "delete"
	OperationList      Operation = "list"
)

// UsageStatus is the outcome of a logged operation
type UsageStatus string

const (
	UsageStatusSuccess UsageStatus = "success"
	UsageStatusFailed  UsageStatus = "failed"
)

// UsageLog is an append-only audit record. Rows are inserted and purged by retention, never updated.
type UsageLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TenantID           uint        `gorm:"not null;index:idx_usage_tenant_created,priority:1" json:"tenant_id"`
	APIKeyID           *uint       `gorm:"index" json:"api_key_id,omitempty"`
	Operation          Operation   `gorm:"not null;type:varchar(20);index" json:"operation"`
	Status             UsageStatus `gorm:"not null;type:varchar(20)" json:"status"`
	Collection         string      `gorm:"type:varchar(255)" json:"collection,omitempty"`
	DocumentsProcessed int         `gorm:"default:0" json:"documents_processed"`
	DataSizeBytes      int64       `gorm:"default:0" json:"data_size_bytes"`
	ProcessingTimeMs   int64       `gorm:"default:0" json:"processing_time_ms"`
	ErrorMessage       string      `gorm:"type:text" json:"error_message,omitempty"`
	IPAddress          string      `gorm:"type:varchar(45)" json:"ip_address,omitempty"` // IPv4/IPv6
	UserAgent          string      `gorm:"type:varchar(512)" json:"user_agent,omitempty"`

	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Timestamp time.Time      `gorm:"not null;index:idx_usage_tenant_created,priority:2" json:"timestamp"`
}

// TableName specifies the table name for UsageLog
func (UsageLog) TableName() string {
	return "usage_logs"
}
