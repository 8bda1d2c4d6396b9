package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReturnsTenantContext(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	ctx := context.Background()

	key, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "writer", Type: model.KeyTypeWrite})
	require.NoError(t, err)
	require.NotEmpty(t, key.PlainKey)
	assert.Equal(t, 100, key.RateLimit)

	tc, err := svc.Validate(ctx, key.PlainKey)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.TenantID)
	assert.Equal(t, key.ID, tc.APIKeyID)
	assert.Equal(t, int64(1), tc.RequestCount)
	assert.True(t, tc.HasPermission(model.PermissionWrite))
	assert.False(t, tc.HasPermission(model.PermissionDelete))

	var reloaded model.Tenant
	require.NoError(t, db.First(&reloaded, tenant.ID).Error)
	assert.Equal(t, int64(1), reloaded.RequestCount)
}

func TestValidateRejectsUnknownAndMissingKeys(t *testing.T) {
	db := openDB(t)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)

	_, err := svc.Validate(context.Background(), "")
	assert.True(t, errors.Is(err, services.ErrUnauthorized))

	_, err = svc.Validate(context.Background(), "sk_live_doesnotexist")
	assert.True(t, errors.Is(err, services.ErrUnauthorized))
}

func TestValidateEnforcesRateLimitUnderConcurrency(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	ctx := context.Background()

	key, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "search"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Validate(ctx, key.PlainKey)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var stored model.APIKey
	require.NoError(t, db.First(&stored, key.ID).Error)
	assert.Equal(t, int64(100), stored.RequestCount)
	assert.Equal(t, 100, stored.WindowCount)

	_, err = svc.Validate(ctx, key.PlainKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrRateLimited))

	gerr, ok := services.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 100, gerr.Meta["limit"])
	assert.Equal(t, "1m", gerr.Meta["window"])
	assert.Greater(t, gerr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, gerr.RetryAfter, time.Minute)

	require.NoError(t, db.First(&stored, key.ID).Error)
	assert.Equal(t, int64(100), stored.RequestCount)
}

func TestValidateOpensNewWindowAfterExpiry(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	ctx := context.Background()

	key, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "tiny", RateLimit: 1})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, key.PlainKey)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, key.PlainKey)
	require.True(t, errors.Is(err, services.ErrRateLimited))

	past := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, db.Model(&model.APIKey{}).Where("id = ?", key.ID).Update("window_started_at", past).Error)

	tc, err := svc.Validate(ctx, key.PlainKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tc.RequestCount)
}

func TestRevokeInvalidatesCachedKey(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	publisher := &recordingPublisher{}
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, publisher, nil)
	ctx := context.Background()

	key, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "soon revoked"})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, key.PlainKey)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, tenant.ID, key.ID))
	assert.Equal(t, 1, publisher.count())

	_, err = svc.Validate(ctx, key.PlainKey)
	assert.True(t, errors.Is(err, services.ErrUnauthorized))

	// Revoking twice is a no-op
	require.NoError(t, svc.Revoke(ctx, tenant.ID, key.ID))

	var stored model.APIKey
	require.NoError(t, db.First(&stored, key.ID).Error)
	assert.Equal(t, model.KeyStatusRevoked, stored.Status)
	assert.NotNil(t, stored.RevokedAt)
}

func TestRevokeOnAnotherInstanceBlocksCachedKey(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	ctx := context.Background()
	first := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	second := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)

	key, err := first.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "shared"})
	require.NoError(t, err)
	_, err = first.Validate(ctx, key.PlainKey)
	require.NoError(t, err)

	require.NoError(t, second.Revoke(ctx, tenant.ID, key.ID))

	_, err = first.Validate(ctx, key.PlainKey)
	assert.True(t, errors.Is(err, services.ErrUnauthorized))
}

func TestRevokeUnknownKey(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)

	err := svc.Revoke(context.Background(), tenant.ID, 999)
	assert.True(t, errors.Is(err, services.ErrNotFound))
}

func TestValidateRejectsExpiredKey(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	ctx := context.Background()

	key, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "old", ExpiresInDays: 1})
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)

	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&model.APIKey{}).Where("id = ?", key.ID).Update("expires_at", expired).Error)

	_, err = svc.Validate(ctx, key.PlainKey)
	assert.True(t, errors.Is(err, services.ErrUnauthorized))
}

func TestCreateAppliesTypeDefaults(t *testing.T) {
	db := openDB(t)
	tenant := createTenant(t, db, 100, 0)
	svc := services.NewAPIKeyService(db, services.APIKeyConfig{DefaultRateLimit: 50, AdminRateLimit: 500}, nil, nil)
	ctx := context.Background()

	admin, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "ops", Type: model.KeyTypeAdmin})
	require.NoError(t, err)
	assert.Equal(t, 500, admin.RateLimit)
	assert.True(t, admin.Permissions.Has(model.PermissionDelete))

	custom, err := svc.Create(ctx, tenant.ID, services.CreateKeyInput{Name: "custom", Permissions: []string{"write"}, RateLimit: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, custom.RateLimit)
	assert.False(t, custom.Permissions.Has(model.PermissionSearch))

	keys, err := svc.List(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.Empty(t, k.PlainKey)
	}
}

func TestFormatWindow(t *testing.T) {
	assert.Equal(t, "1m", services.FormatWindow(time.Minute))
	assert.Equal(t, "30s", services.FormatWindow(30*time.Second))
	assert.Equal(t, "2h", services.FormatWindow(2*time.Hour))
	assert.Equal(t, "1.5s", services.FormatWindow(1500*time.Millisecond))
}
