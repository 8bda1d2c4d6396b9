package services

import (
	"context"
	"errors"

	"github.com/sahilchouksey/search-gateway/model"
	"gorm.io/gorm"
)

// TenantDefaults is the quota given to tenants created without explicit limits
type TenantDefaults struct {
	DocumentLimit     int64
	StorageLimitBytes int64
	CollectionLimit   int64
}

// TenantService manages tenant records; used by the operator CLI
type TenantService struct {
	db       *gorm.DB
	defaults TenantDefaults
}

// NewTenantService creates a new tenant service
func NewTenantService(db *gorm.DB, defaults TenantDefaults) *TenantService {
	return &TenantService{db: db, defaults: defaults}
}

// CreateTenantInput holds the fields of a new tenant
type CreateTenantInput struct {
	Name              string `validate:"required,min=1,max=255"`
	Email             string `validate:"omitempty,email"`
	DocumentLimit     int64  `validate:"gte=0"`
	StorageLimitBytes int64  `validate:"gte=0"`
	CollectionLimit   int64  `validate:"gte=0"`
}

// Create inserts a tenant with the given quota
func (s *TenantService) Create(ctx context.Context, input CreateTenantInput) (*model.Tenant, error) {
	if input.DocumentLimit == 0 {
		input.DocumentLimit = s.defaults.DocumentLimit
	}
	if input.StorageLimitBytes == 0 {
		input.StorageLimitBytes = s.defaults.StorageLimitBytes
	}
	if input.CollectionLimit == 0 {
		input.CollectionLimit = s.defaults.CollectionLimit
	}

	tenant := &model.Tenant{
		Name:              input.Name,
		Email:             input.Email,
		DocumentLimit:     input.DocumentLimit,
		StorageLimitBytes: input.StorageLimitBytes,
		CollectionLimit:   input.CollectionLimit,
	}
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, storeError("failed to create tenant", err)
	}
	return tenant, nil
}

// Get loads a tenant by id
func (s *TenantService) Get(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("tenant %d not found", id)
		}
		return nil, storeError("failed to load tenant", err)
	}
	return &tenant, nil
}

// QuotaInput holds replacement limits; 0 means unlimited
type QuotaInput struct {
	DocumentLimit     int64 `validate:"gte=0"`
	StorageLimitBytes int64 `validate:"gte=0"`
	CollectionLimit   int64 `validate:"gte=0"`
}

// SetQuota replaces a tenant's limits
func (s *TenantService) SetQuota(ctx context.Context, id uint, quota QuotaInput) error {
	result := s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"document_limit":      quota.DocumentLimit,
			"storage_limit_bytes": quota.StorageLimitBytes,
			"collection_limit":    quota.CollectionLimit,
		})
	if result.Error != nil {
		return storeError("failed to update quota", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("tenant %d not found", id)
	}
	return nil
}
