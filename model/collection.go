package model

import (
	"time"
)

// Collection records a tenant-scoped search engine collection created by the gateway
type Collection struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID  uint   `gorm:"not null;uniqueIndex:idx_tenant_index_name" json:"tenant_id"`
	IndexName string `gorm:"not null;type:varchar(64);uniqueIndex:idx_tenant_index_name" json:"index_name"`
	Name      string `gorm:"not null;type:varchar(255);uniqueIndex" json:"name"` // engine collection name

	DocumentCount int64      `gorm:"not null;default:0" json:"document_count"`
	StorageBytes  int64      `gorm:"not null;default:0" json:"storage_bytes"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`

	Tenant Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Collection
func (Collection) TableName() string {
	return "collections"
}
