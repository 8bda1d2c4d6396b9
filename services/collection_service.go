package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionInvalidationChannel carries engine names of collections dropped on any instance
const CollectionInvalidationChannel = "gateway:collections:invalidate"

// DefaultIndexName is used when a caller does not name an index
const DefaultIndexName = tenancy.DefaultIndexName

// CollectionName maps (tenant, index name) to the engine collection name
func CollectionName(tenantID uint, indexName string) string {
	return tenancy.CollectionName(tenantID, indexName)
}

// ValidateIndexName checks a caller supplied index name
func ValidateIndexName(indexName string) error {
	if !tenancy.IsValidIndexName(indexName) {
		return validationError("indexName must be 1-64 characters of letters, digits, '_' or '-', starting with a letter or digit")
	}
	return nil
}

// CollectionSchema is the auto-detecting schema every tenant collection is created with
func CollectionSchema(name string) typesense.CollectionSchema {
	sortable := true
	return typesense.CollectionSchema{
		Name: name,
		Fields: []typesense.Field{
			{Name: tenancy.FieldTenantID, Type: "string", Facet: true},
			{Name: tenancy.FieldIndexedAt, Type: "int64", Sort: &sortable},
			{Name: tenancy.FieldAdmittedBytes, Type: "int64", Optional: true},
			{Name: ".*", Type: "auto"},
		},
		DefaultSortingField: tenancy.FieldIndexedAt,
	}
}

// CollectionService lazily provisions tenant collections in the engine and tracks them in the store
type CollectionService struct {
	db        *gorm.DB
	engine    SearchEngine
	publisher Publisher
	log       *zap.Logger

	group singleflight.Group
	known sync.Map // engine name -> model.Collection
}

// NewCollectionService creates a new collection service. publisher may be nil.
func NewCollectionService(db *gorm.DB, engine SearchEngine, publisher Publisher, log *zap.Logger) *CollectionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CollectionService{db: db, engine: engine, publisher: publisher, log: log}
}

// Invalidate forgets that a collection exists, so the next EnsureCollection asks the engine again
func (s *CollectionService) Invalidate(name string) {
	s.known.Delete(name)
}

// EnsureCollection returns the tenant's collection for indexName, creating it in the engine
// and the store when missing. Safe to call concurrently from any number of goroutines or instances.
func (s *CollectionService) EnsureCollection(ctx context.Context, tenantID uint, indexName string) (*model.Collection, error) {
	indexName = tenancy.NormalizeIndexName(indexName)
	name := CollectionName(tenantID, indexName)

	if cached, ok := s.known.Load(name); ok {
		rec := cached.(model.Collection)
		return &rec, nil
	}

	v, err, _ := s.group.Do(name, func() (interface{}, error) {
		return s.ensure(ctx, tenantID, indexName, name)
	})
	if err != nil {
		return nil, err
	}
	rec := v.(model.Collection)
	return &rec, nil
}

func (s *CollectionService) ensure(ctx context.Context, tenantID uint, indexName, name string) (model.Collection, error) {
	_, err := s.engine.RetrieveCollection(ctx, name)
	switch {
	case err == nil:
	case typesense.IsNotFound(err):
		if _, err := s.engine.CreateCollection(ctx, CollectionSchema(name)); err != nil {
			if !typesense.IsConflict(err) {
				return model.Collection{}, engineError("failed to create collection", err, typesense.IsRetryable(err))
			}
			// Another caller created it between our lookup and create
			s.log.Debug("collection created concurrently", zap.String("collection", name))
		} else {
			s.log.Info("collection created", zap.String("collection", name), zap.Uint("tenant_id", tenantID))
		}
	default:
		return model.Collection{}, engineError("failed to retrieve collection", err, typesense.IsRetryable(err))
	}

	rec := model.Collection{TenantID: tenantID, IndexName: indexName, Name: name}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error; err != nil {
		return model.Collection{}, storeError("failed to record collection", err)
	}
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error; err != nil {
		return model.Collection{}, storeError("failed to load collection", err)
	}

	s.known.Store(name, rec)
	return rec, nil
}

// Get returns the tenant's collection record for indexName
func (s *CollectionService) Get(ctx context.Context, tenantID uint, indexName string) (*model.Collection, error) {
	var rec model.Collection
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", tenantID, CollectionName(tenantID, indexName)).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("collection %q not found", indexName)
		}
		return nil, storeError("failed to load collection", err)
	}
	return &rec, nil
}

// List returns the tenant's collections
func (s *CollectionService) List(ctx context.Context, tenantID uint) ([]model.Collection, error) {
	var recs []model.Collection
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("index_name").
		Find(&recs).Error; err != nil {
		return nil, storeError("failed to list collections", err)
	}
	return recs, nil
}

// Drop deletes the engine collection and its record, releasing its usage from the tenant
func (s *CollectionService) Drop(ctx context.Context, tc TenantContext, indexName string) error {
	if err := tc.Require(model.PermissionDelete); err != nil {
		return err
	}

	rec, err := s.Get(ctx, tc.TenantID, indexName)
	if err != nil {
		return err
	}

	if err := s.engine.DeleteCollection(ctx, rec.Name); err != nil && !typesense.IsNotFound(err) {
		return engineError("failed to delete collection", err, typesense.IsRetryable(err))
	}
	s.Invalidate(rec.Name)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, CollectionInvalidationChannel, rec.Name); err != nil {
			s.log.Warn("failed to broadcast collection drop", zap.String("collection", rec.Name), zap.Error(err))
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Collection{}, rec.ID).Error; err != nil {
			return err
		}
		return tx.Model(&model.Tenant{}).
			Where("id = ?", tc.TenantID).
			Updates(map[string]interface{}{
				"document_count": gorm.Expr("CASE WHEN document_count > ? THEN document_count - ? ELSE 0 END", rec.DocumentCount, rec.DocumentCount),
				"storage_bytes":  gorm.Expr("CASE WHEN storage_bytes > ? THEN storage_bytes - ? ELSE 0 END", rec.StorageBytes, rec.StorageBytes),
			}).Error
	})
	if err != nil {
		return storeError("failed to remove collection record", err)
	}

	s.log.Info("collection dropped", zap.String("collection", rec.Name), zap.Uint("tenant_id", tc.TenantID))
	return nil
}

// SyncStats refreshes every collection's document count from the engine, then recomputes
// tenant document counts from their collections. Returns the number of collections synced.
func (s *CollectionService) SyncStats(ctx context.Context) (int, error) {
	var recs []model.Collection
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return 0, storeError("failed to list collections", err)
	}

	infos, err := s.engine.ListCollections(ctx)
	if err != nil {
		return 0, engineError("failed to list engine collections", err, typesense.IsRetryable(err))
	}
	docs := make(map[string]int64, len(infos))
	for _, info := range infos {
		docs[info.Name] = info.NumDocuments
	}

	synced := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		count, ok := docs[rec.Name]
		if !ok {
			s.log.Warn("collection missing from engine", zap.String("collection", rec.Name))
			s.Invalidate(rec.Name)
			continue
		}

		if err := s.db.WithContext(ctx).
			Model(&model.Collection{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"document_count": count,
				"last_synced_at": time.Now(),
			}).Error; err != nil {
			return synced, storeError("failed to update collection stats", err)
		}
		synced++
	}

	if err := s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("1 = 1").
		Update("document_count", gorm.Expr("(SELECT COALESCE(SUM(c.document_count), 0) FROM collections c WHERE c.tenant_id = tenants.id)")).Error; err != nil {
		return synced, storeError("failed to recompute tenant document counts", err)
	}

	return synced, nil
}
