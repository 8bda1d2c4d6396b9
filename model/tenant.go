package model

import (
	"time"

	"gorm.io/gorm"
)

// Tenant owns API keys, collections and usage. Counters are only ever changed with gorm.Expr increments.
type Tenant struct {
	gorm.Model
	Name  string `gorm:"not null;type:varchar(255)" json:"name"`
	Email string `gorm:"type:varchar(255);index" json:"email,omitempty"`

	// Quota; a limit <= 0 means unlimited
	DocumentLimit     int64 `gorm:"not null;default:10000" json:"document_limit"`
	StorageLimitBytes int64 `gorm:"not null;default:104857600" json:"storage_limit_bytes"`
	CollectionLimit   int64 `gorm:"not null;default:10" json:"collection_limit"`

	// Consumption
	DocumentCount int64 `gorm:"not null;default:0" json:"document_count"`
	StorageBytes  int64 `gorm:"not null;default:0" json:"storage_bytes"`
	RequestCount  int64 `gorm:"not null;default:0" json:"request_count"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	APIKeys     []APIKey     `gorm:"foreignKey:TenantID" json:"-"`
	Collections []Collection `gorm:"foreignKey:TenantID" json:"-"`
}

// TableName specifies the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

// Quota is the tenant limit snapshot returned by the usage report
type Quota struct {
	DocumentLimit     int64 `json:"document_limit"`
	StorageLimitBytes int64 `json:"storage_limit_bytes"`
	CollectionLimit   int64 `json:"collection_limit"`
	DocumentCount     int64 `json:"document_count"`
	StorageBytes      int64 `json:"storage_bytes"`
}

// Quota returns the tenant limits and consumption
func (t *Tenant) Quota() Quota {
	return Quota{
		DocumentLimit:     t.DocumentLimit,
		StorageLimitBytes: t.StorageLimitBytes,
		CollectionLimit:   t.CollectionLimit,
		DocumentCount:     t.DocumentCount,
		StorageBytes:      t.StorageBytes,
	}
}
