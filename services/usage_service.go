package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// UsageDelta is a change in consumption for one tenant collection
type UsageDelta struct {
	TenantID   uint
	Collection string // engine collection name
	Documents  int64
	Bytes      int64
}

// UsageService owns quota admission, consumption counters and the usage log
type UsageService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewUsageService creates a new usage service
func NewUsageService(db *gorm.DB, log *zap.Logger) *UsageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageService{db: db, log: log}
}

// CheckAdmission verifies the tenant can take documents more documents totalling bytes.
// collections are the engine names the documents target; any the tenant does not have
// yet count against its collection limit.
func (s *UsageService) CheckAdmission(ctx context.Context, tenantID uint, documents int, bytes int64, collections ...string) error {
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return unauthorized("tenant not found")
		}
		return storeError("failed to load tenant", err)
	}

	if tenant.DocumentLimit > 0 && tenant.DocumentCount+int64(documents) > tenant.DocumentLimit {
		return &Error{
			Kind:    KindQuotaExceeded,
			Message: "document limit exceeded",
			Meta: map[string]interface{}{
				"resource":  "documents",
				"limit":     tenant.DocumentLimit,
				"used":      tenant.DocumentCount,
				"requested": documents,
			},
		}
	}

	if tenant.StorageLimitBytes > 0 && tenant.StorageBytes+bytes > tenant.StorageLimitBytes {
		return &Error{
			Kind:    KindQuotaExceeded,
			Message: "storage limit exceeded",
			Meta: map[string]interface{}{
				"resource":  "storage_bytes",
				"limit":     tenant.StorageLimitBytes,
				"used":      tenant.StorageBytes,
				"requested": bytes,
			},
		}
	}

	if tenant.CollectionLimit > 0 && len(collections) > 0 {
		return s.checkCollectionLimit(ctx, &tenant, collections)
	}
	return nil
}

func (s *UsageService) checkCollectionLimit(ctx context.Context, tenant *model.Tenant, collections []string) error {
	var owned int64
	if err := s.db.WithContext(ctx).
		Model(&model.Collection{}).
		Where("tenant_id = ?", tenant.ID).
		Count(&owned).Error; err != nil {
		return storeError("failed to count collections", err)
	}

	var existing []string
	if err := s.db.WithContext(ctx).
		Model(&model.Collection{}).
		Where("tenant_id = ? AND name IN ?", tenant.ID, collections).
		Pluck("name", &existing).Error; err != nil {
		return storeError("failed to load collections", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		known[name] = struct{}{}
	}
	requested := 0
	for _, name := range collections {
		if _, ok := known[name]; !ok {
			known[name] = struct{}{}
			requested++
		}
	}

	if requested > 0 && owned+int64(requested) > tenant.CollectionLimit {
		return &Error{
			Kind:    KindQuotaExceeded,
			Message: "collection limit exceeded",
			Meta: map[string]interface{}{
				"resource":  "collections",
				"limit":     tenant.CollectionLimit,
				"used":      owned,
				"requested": requested,
			},
		}
	}
	return nil
}

// Record applies a positive delta to the tenant and collection counters in one transaction
func (s *UsageService) Record(ctx context.Context, delta UsageDelta) error {
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Tenant{}).
			Where("id = ?", delta.TenantID).
			Updates(map[string]interface{}{
				"document_count":   gorm.Expr("document_count + ?", delta.Documents),
				"storage_bytes":    gorm.Expr("storage_bytes + ?", delta.Bytes),
				"last_activity_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to update tenant usage: %w", err)
		}

		if delta.Collection == "" {
			return nil
		}
		return tx.Model(&model.Collection{}).
			Where("tenant_id = ? AND name = ?", delta.TenantID, delta.Collection).
			Updates(map[string]interface{}{
				"document_count":  gorm.Expr("document_count + ?", delta.Documents),
				"storage_bytes":   gorm.Expr("storage_bytes + ?", delta.Bytes),
				"last_indexed_at": now,
			}).Error
	})
	if err != nil {
		return storeError("failed to record usage", err)
	}
	return nil
}

// RecordIndexed records documents the engine accepted into a collection
func (s *UsageService) RecordIndexed(ctx context.Context, tenantID uint, collection string, documents, bytes int64) error {
	return s.Record(ctx, UsageDelta{TenantID: tenantID, Collection: collection, Documents: documents, Bytes: bytes})
}

// Release subtracts a delta, never letting a counter go below zero
func (s *UsageService) Release(ctx context.Context, delta UsageDelta) error {
	clamp := func(column string, n int64) interface{} {
		return gorm.Expr(fmt.Sprintf("CASE WHEN %s > ? THEN %s - ? ELSE 0 END", column, column), n, n)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Tenant{}).
			Where("id = ?", delta.TenantID).
			Updates(map[string]interface{}{
				"document_count": clamp("document_count", delta.Documents),
				"storage_bytes":  clamp("storage_bytes", delta.Bytes),
			}).Error; err != nil {
			return fmt.Errorf("failed to release tenant usage: %w", err)
		}

		if delta.Collection == "" {
			return nil
		}
		return tx.Model(&model.Collection{}).
			Where("tenant_id = ? AND name = ?", delta.TenantID, delta.Collection).
			Updates(map[string]interface{}{
				"document_count": clamp("document_count", delta.Documents),
				"storage_bytes":  clamp("storage_bytes", delta.Bytes),
			}).Error
	})
	if err != nil {
		return storeError("failed to release usage", err)
	}
	return nil
}

// Log appends a usage entry
func (s *UsageService) Log(ctx context.Context, entry *model.UsageLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return storeError("failed to write usage log", err)
	}
	return nil
}

// LogFor appends an entry attributed to the caller and swallows store failures after logging them.
// Usage logging never changes the outcome of the call it describes.
func (s *UsageService) LogFor(ctx context.Context, tc TenantContext, entry model.UsageLog) {
	entry.TenantID = tc.TenantID
	entry.APIKeyID = tc.keyID()
	if entry.IPAddress == "" {
		entry.IPAddress = tc.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = tc.UserAgent
	}
	if err := s.Log(ctx, &entry); err != nil {
		s.log.Warn("usage log dropped",
			zap.Uint("tenant_id", tc.TenantID),
			zap.String("operation", string(entry.Operation)),
			zap.Error(err),
		)
	}
}

// OperationStat aggregates usage logs by operation and status
type OperationStat struct {
	Operation          model.Operation   `json:"operation"`
	Status             model.UsageStatus `json:"status"`
	Count              int64             `json:"count"`
	DocumentsProcessed int64             `json:"documents_processed"`
	DataSizeBytes      int64             `json:"data_size_bytes"`
}

// KeySnapshot is the calling key's limit state
type KeySnapshot struct {
	ID           uint  `json:"id"`
	RateLimit    int   `json:"rate_limit"`
	RequestCount int64 `json:"request_count"`
}

// UsageReport is returned by the usage endpoint
type UsageReport struct {
	Logs  []model.UsageLog `json:"logs"`
	Stats []OperationStat  `json:"stats"`
	Quota model.Quota      `json:"quota"`
	Key   KeySnapshot      `json:"api_key"`
	Keys  []model.APIKey   `json:"api_keys"`
}

const reportLogLimit = 100

// Report assembles the tenant's recent logs, aggregates, quota and keys
func (s *UsageService) Report(ctx context.Context, tc TenantContext) (*UsageReport, error) {
	report := &UsageReport{Key: KeySnapshot{ID: tc.APIKeyID, RateLimit: tc.RateLimit, RequestCount: tc.RequestCount}}
	db := s.db.WithContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.WithContext(gctx).
			Where("tenant_id = ?", tc.TenantID).
			Order("timestamp DESC").
			Limit(reportLogLimit).
			Find(&report.Logs).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).
			Model(&model.UsageLog{}).
			Select("operation, status, COUNT(*) AS count, COALESCE(SUM(documents_processed), 0) AS documents_processed, COALESCE(SUM(data_size_bytes), 0) AS data_size_bytes").
			Where("tenant_id = ?", tc.TenantID).
			Group("operation, status").
			Order("operation, status").
			Scan(&report.Stats).Error
	})
	g.Go(func() error {
		var tenant model.Tenant
		if err := db.WithContext(gctx).First(&tenant, tc.TenantID).Error; err != nil {
			return err
		}
		report.Quota = tenant.Quota()
		return nil
	})
	g.Go(func() error {
		return db.WithContext(gctx).
			Where("tenant_id = ?", tc.TenantID).
			Order("created_at DESC").
			Find(&report.Keys).Error
	})

	if err := g.Wait(); err != nil {
		return nil, storeError("failed to build usage report", err)
	}
	return report, nil
}

// CleanupLogs purges usage logs older than before and returns the number removed
func (s *UsageService) CleanupLogs(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&model.UsageLog{})
	if result.Error != nil {
		return 0, storeError("failed to purge usage logs", result.Error)
	}
	return result.RowsAffected, nil
}
