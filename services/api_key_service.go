package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sahilchouksey/search-gateway/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KeyInvalidationChannel carries key hashes revoked on any instance
const KeyInvalidationChannel = "gateway:api_keys:invalidate"

// Publisher broadcasts cache invalidations to other gateway instances
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// APIKeyConfig holds limits applied to new and validated keys
type APIKeyConfig struct {
	DefaultRateLimit int
	AdminRateLimit   int
	Window           time.Duration
	CacheTTL         time.Duration
	CacheSize        int
}

// cachedKey is the immutable part of a key needed to authorize a call.
// Counters are never cached; they are always updated in the store.
type cachedKey struct {
	ID          uint
	TenantID    uint
	Type        model.KeyType
	Permissions model.Permissions
	RateLimit   int
	ExpiresAt   *time.Time
}

// APIKeyService validates, rate limits and manages tenant API keys
type APIKeyService struct {
	db        *gorm.DB
	cfg       APIKeyConfig
	cache     *expirable.LRU[string, cachedKey]
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewAPIKeyService creates a new API key service. publisher may be nil for a single instance.
func NewAPIKeyService(db *gorm.DB, cfg APIKeyConfig, publisher Publisher, log *zap.Logger) *APIKeyService {
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = 100
	}
	if cfg.AdminRateLimit <= 0 {
		cfg.AdminRateLimit = 1000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &APIKeyService{
		db:        db,
		cfg:       cfg,
		cache:     expirable.NewLRU[string, cachedKey](cfg.CacheSize, nil, cfg.CacheTTL),
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Validate authenticates secret, admits the call against the key's rate limit and
// returns the caller's tenant context.
func (s *APIKeyService) Validate(ctx context.Context, secret string) (TenantContext, error) {
	if secret == "" {
		authValidations.WithLabelValues("missing").Inc()
		return TenantContext{}, unauthorized("missing API key")
	}

	hash := model.HashAPIKey(secret)
	now := s.now()

	entry, ok := s.cache.Get(hash)
	if ok {
		authCacheLookups.WithLabelValues("hit").Inc()
		if entry.ExpiresAt != nil && now.After(*entry.ExpiresAt) {
			s.cache.Remove(hash)
			return TenantContext{}, expiredKey()
		}
	} else {
		authCacheLookups.WithLabelValues("miss").Inc()

		var key model.APIKey
		if err := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				authValidations.WithLabelValues("invalid").Inc()
				return TenantContext{}, unauthorized("invalid API key")
			}
			return TenantContext{}, storeError("failed to look up API key", err)
		}
		if key.Status != model.KeyStatusActive {
			authValidations.WithLabelValues("revoked").Inc()
			return TenantContext{}, unauthorized("API key has been revoked")
		}
		if key.IsExpired(now) {
			return TenantContext{}, expiredKey()
		}

		entry = cachedKey{
			ID:          key.ID,
			TenantID:    key.TenantID,
			Type:        key.Type,
			Permissions: key.Permissions,
			RateLimit:   key.RateLimit,
			ExpiresAt:   key.ExpiresAt,
		}
		s.cache.Add(hash, entry)
	}

	requestCount, err := s.admit(ctx, hash, entry, now)
	if err != nil {
		return TenantContext{}, err
	}

	if err := s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ?", entry.TenantID).
		Updates(map[string]interface{}{
			"request_count":    gorm.Expr("request_count + 1"),
			"last_activity_at": now,
		}).Error; err != nil {
		s.log.Warn("failed to bump tenant request count", zap.Uint("tenant_id", entry.TenantID), zap.Error(err))
	}

	authValidations.WithLabelValues("ok").Inc()
	return TenantContext{
		TenantID:     entry.TenantID,
		APIKeyID:     entry.ID,
		KeyType:      entry.Type,
		Permissions:  entry.Permissions,
		RateLimit:    entry.RateLimit,
		RequestCount: requestCount,
	}, nil
}

// admit counts the call with one conditional UPDATE. The row only changes while the key is
// active and its current window has room, so concurrent callers can never overshoot the limit.
func (s *APIKeyService) admit(ctx context.Context, hash string, entry cachedKey, now time.Time) (int64, error) {
	windowStart := now.Add(-s.cfg.Window)
	windowExpired := "(window_started_at IS NULL OR window_started_at <= ?)"

	result := s.db.WithContext(ctx).
		Model(&model.APIKey{}).
		Where("id = ? AND status = ? AND ("+windowExpired+" OR window_count < rate_limit)",
			entry.ID, model.KeyStatusActive, windowStart).
		Updates(map[string]interface{}{
			"request_count":     gorm.Expr("request_count + 1"),
			"window_count":      gorm.Expr("CASE WHEN "+windowExpired+" THEN 1 ELSE window_count + 1 END", windowStart),
			"window_started_at": gorm.Expr("CASE WHEN "+windowExpired+" THEN ? ELSE window_started_at END", windowStart, now),
			"last_used_at":      now,
		})
	if result.Error != nil {
		return 0, storeError("failed to update API key usage", result.Error)
	}

	var key model.APIKey
	if err := s.db.WithContext(ctx).
		Select("id", "status", "rate_limit", "request_count", "window_started_at").
		First(&key, entry.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.cache.Remove(hash)
			return 0, unauthorized("invalid API key")
		}
		return 0, storeError("failed to read API key usage", err)
	}

	if result.RowsAffected > 0 {
		return key.RequestCount, nil
	}

	if key.Status != model.KeyStatusActive {
		s.cache.Remove(hash)
		authValidations.WithLabelValues("revoked").Inc()
		return 0, unauthorized("API key has been revoked")
	}

	retryAfter := s.cfg.Window
	if key.WindowStartedAt != nil {
		retryAfter = key.WindowStartedAt.Add(s.cfg.Window).Sub(now)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	authValidations.WithLabelValues("rate_limited").Inc()
	return 0, &Error{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
		Meta: map[string]interface{}{
			"limit":  key.RateLimit,
			"window": FormatWindow(s.cfg.Window),
		},
	}
}

// FormatWindow renders a window the way limits are advertised, e.g. "1m" or "30s"
func FormatWindow(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return d.String()
	}
}

// CreateKeyInput holds the fields of a new API key
type CreateKeyInput struct {
	Name          string        `json:"name" validate:"required,min=1,max=100"`
	Type          model.KeyType `json:"type" validate:"omitempty,oneof=search write admin"`
	Permissions   []string      `json:"permissions" validate:"omitempty,dive,oneof=search write delete"`
	RateLimit     int           `json:"rate_limit" validate:"gte=0,lte=100000"`
	ExpiresInDays int           `json:"expires_in_days" validate:"gte=0,lte=3650"`
}

// Create issues a new key for a tenant. The returned record carries the plain secret exactly once.
func (s *APIKeyService) Create(ctx context.Context, tenantID uint, input CreateKeyInput) (*model.APIKey, error) {
	keyType := input.Type
	if keyType == "" {
		keyType = model.KeyTypeSearch
	}

	rateLimit := input.RateLimit
	if rateLimit == 0 {
		rateLimit = s.cfg.DefaultRateLimit
		if keyType == model.KeyTypeAdmin {
			rateLimit = s.cfg.AdminRateLimit
		}
	}

	permissions := model.DefaultPermissions(keyType)
	if len(input.Permissions) > 0 {
		permissions = model.Permissions(input.Permissions)
	}

	key := &model.APIKey{
		TenantID:    tenantID,
		Name:        input.Name,
		Type:        keyType,
		Status:      model.KeyStatusActive,
		Permissions: permissions,
		RateLimit:   rateLimit,
	}
	if input.ExpiresInDays > 0 {
		expiresAt := s.now().AddDate(0, 0, input.ExpiresInDays)
		key.ExpiresAt = &expiresAt
	}

	// BeforeCreate generates PlainKey and stores only the hash
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, storeError("failed to create API key", err)
	}

	return key, nil
}

// List returns all keys of a tenant, newest first, without secrets
func (s *APIKeyService) List(ctx context.Context, tenantID uint) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, storeError("failed to list API keys", err)
	}
	return keys, nil
}

// Revoke marks a key revoked. The row is kept for the audit trail. Revoking twice is a no-op.
func (s *APIKeyService) Revoke(ctx context.Context, tenantID, keyID uint) error {
	var key model.APIKey
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", keyID, tenantID).
		First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("API key %d not found", keyID)
		}
		return storeError("failed to load API key", err)
	}

	if key.Status != model.KeyStatusRevoked {
		if err := s.db.WithContext(ctx).
			Model(&model.APIKey{}).
			Where("id = ?", key.ID).
			Updates(map[string]interface{}{
				"status":     model.KeyStatusRevoked,
				"revoked_at": s.now(),
			}).Error; err != nil {
			return storeError("failed to revoke API key", err)
		}
	}

	s.Invalidate(key.KeyHash)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, KeyInvalidationChannel, key.KeyHash); err != nil {
			// Other instances fall back to TTL expiry; the store update already blocks the key
			s.log.Warn("failed to broadcast key invalidation", zap.Uint("key_id", key.ID), zap.Error(err))
		}
	}

	s.log.Info("API key revoked", zap.Uint("tenant_id", tenantID), zap.Uint("key_id", key.ID))
	return nil
}

func expiredKey() error {
	authValidations.WithLabelValues("expired").Inc()
	return unauthorized("API key has expired")
}

// Invalidate drops a cached validation by key hash
func (s *APIKeyService) Invalidate(keyHash string) {
	s.cache.Remove(keyHash)
}
