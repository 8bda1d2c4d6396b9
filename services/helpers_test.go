package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sahilchouksey/search-gateway/database"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/typesense/typesensetest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	store, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store.GetDB()
}

func openEngine(t *testing.T) *typesensetest.Server {
	t.Helper()
	engine := typesensetest.NewServer()
	t.Cleanup(engine.Close)
	return engine
}

func createTenant(t *testing.T, db *gorm.DB, documentLimit, storageLimit int64) model.Tenant {
	t.Helper()
	tenant := model.Tenant{Name: "acme", DocumentLimit: documentLimit, StorageLimitBytes: storageLimit}
	require.NoError(t, db.Create(&tenant).Error)
	return tenant
}

func tenantCtx(tenantID uint, perms ...model.Permission) services.TenantContext {
	p := make(model.Permissions, len(perms))
	for i, perm := range perms {
		p[i] = string(perm)
	}
	return services.TenantContext{TenantID: tenantID, Permissions: p, KeyType: model.KeyTypeWrite}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []string
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, channel+"|"+message.(string))
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type searchDeps struct {
	db     *gorm.DB
	engine *typesensetest.Server
	tenant model.Tenant
}
