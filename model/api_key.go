package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// KeyStatus is the lifecycle state of an API key. Keys move active -> revoked and are never hard-deleted.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// KeyType decides the default permission set and rate limit of a new key
type KeyType string

const (
	KeyTypeSearch KeyType = "search"
	KeyTypeWrite  KeyType = "write"
	KeyTypeAdmin  KeyType = "admin"
)

// Permission is a single operation an API key may perform
type Permission string

const (
	PermissionSearch Permission = "search"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
)

// DefaultPermissions returns the permission set granted to a key type
func DefaultPermissions(keyType KeyType) Permissions {
	switch keyType {
	case KeyTypeAdmin:
		return Permissions{string(PermissionSearch), string(PermissionWrite), string(PermissionDelete)}
	case KeyTypeWrite:
		return Permissions{string(PermissionSearch), string(PermissionWrite)}
	default:
		return Permissions{string(PermissionSearch)}
	}
}

// APIKey authenticates calls for one tenant
type APIKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID    uint        `gorm:"not null;index" json:"tenant_id"`
	Name        string      `gorm:"not null;type:varchar(100)" json:"name"`
	KeyPrefix   string      `gorm:"not null;index;type:varchar(20)" json:"key_prefix"` // sk_live_xxxxxxx
	KeyHash     string      `gorm:"not null;uniqueIndex;type:varchar(64)" json:"-"`   // SHA-256 of the full key
	Type        KeyType     `gorm:"not null;type:varchar(20);default:'search'" json:"type"`
	Status      KeyStatus   `gorm:"not null;type:varchar(20);default:'active';index" json:"status"`
	Permissions Permissions `json:"permissions"`

	RateLimit       int        `gorm:"not null;default:100" json:"rate_limit"` // requests per window
	RequestCount    int64      `gorm:"not null;default:0" json:"request_count"`
	WindowCount     int        `gorm:"not null;default:0" json:"-"`
	WindowStartedAt *time.Time `json:"-"`

	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`

	Tenant Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`

	// Transient field - only populated when key is first created
	PlainKey string `gorm:"-" json:"api_key,omitempty"`
}

// TableName specifies the table name for APIKey
func (APIKey) TableName() string {
	return "api_keys"
}

// GenerateAPIKey generates a new API key with format: sk_live_<64-hex-chars>
func GenerateAPIKey(prefix string) (string, error) {
	if prefix == "" {
		prefix = "sk_live"
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(randomBytes)), nil
}

// HashAPIKey creates a SHA-256 hash of the API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// BeforeCreate generates the secret when absent and stores only its hash and prefix
func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.PlainKey == "" {
		key, err := GenerateAPIKey("sk_live")
		if err != nil {
			return err
		}
		k.PlainKey = key
	}

	if len(k.PlainKey) < 15 {
		return fmt.Errorf("invalid API key format")
	}
	k.KeyPrefix = k.PlainKey[:15]
	k.KeyHash = HashAPIKey(k.PlainKey)

	if k.Type == "" {
		k.Type = KeyTypeSearch
	}
	if k.Status == "" {
		k.Status = KeyStatusActive
	}
	if len(k.Permissions) == 0 {
		k.Permissions = DefaultPermissions(k.Type)
	}
	if k.RateLimit == 0 {
		k.RateLimit = 100
	}

	return nil
}

// IsExpired checks if the API key has expired
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
