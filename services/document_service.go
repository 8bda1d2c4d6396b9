package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"go.uber.org/zap"
)

// DocumentService handles single document reads and deletes in a tenant's collections
type DocumentService struct {
	engine SearchEngine
	usage  *UsageService
	log    *zap.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(engine SearchEngine, usage *UsageService, log *zap.Logger) *DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentService{engine: engine, usage: usage, log: log}
}

// Get returns one document from the tenant's index
func (s *DocumentService) Get(ctx context.Context, tc TenantContext, indexName, id string) (typesense.Document, error) {
	if err := tc.Require(model.PermissionSearch); err != nil {
		return nil, err
	}
	name, err := s.target(tc, indexName, id)
	if err != nil {
		return nil, err
	}

	doc, err := s.engine.RetrieveDocument(ctx, name, id)
	if err != nil {
		if typesense.IsNotFound(err) {
			return nil, notFound("document %q not found", id)
		}
		return nil, engineError("failed to retrieve document", err, typesense.IsRetryable(err))
	}
	return doc, nil
}

// Delete removes one document from the tenant's index and releases its usage
func (s *DocumentService) Delete(ctx context.Context, tc TenantContext, indexName, id string) error {
	start := time.Now()

	if err := tc.Require(model.PermissionWrite); err != nil {
		return err
	}
	name, err := s.target(tc, indexName, id)
	if err != nil {
		return err
	}
	indexName = tenancy.NormalizeIndexName(indexName)

	deleted, err := s.engine.DeleteDocument(ctx, name, id)
	if err != nil {
		var derr *Error
		if typesense.IsNotFound(err) {
			derr = notFound("document %q not found", id)
		} else {
			derr = engineError("failed to delete document", err, typesense.IsRetryable(err))
		}
		s.usage.LogFor(ctx, tc, model.UsageLog{
			Operation:        model.OperationDelete,
			Status:           model.UsageStatusFailed,
			Collection:       indexName,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ErrorMessage:     derr.Message,
		})
		return derr
	}

	size := callerSize(deleted)
	if err := s.usage.Release(ctx, UsageDelta{TenantID: tc.TenantID, Collection: name, Documents: 1, Bytes: size}); err != nil {
		// The document is gone; the counters are corrected by the stats sync
		s.log.Error("failed to release usage", zap.Uint("tenant_id", tc.TenantID), zap.String("collection", name), zap.Error(err))
	}

	s.usage.LogFor(ctx, tc, model.UsageLog{
		Operation:          model.OperationDelete,
		Status:             model.UsageStatusSuccess,
		Collection:         indexName,
		DocumentsProcessed: 1,
		DataSizeBytes:      size,
		ProcessingTimeMs:   time.Since(start).Milliseconds(),
	})
	return nil
}

func (s *DocumentService) target(tc TenantContext, indexName, id string) (string, error) {
	if err := ValidateIndexName(indexName); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", validationError("document id is required")
	}
	return CollectionName(tc.TenantID, indexName), nil
}

// callerSize is the size a stored document was admitted with. Documents written without
// the admitted size field fall back to re-encoding them minus the gateway's fields.
func callerSize(doc typesense.Document) int64 {
	switch v := doc[tenancy.FieldAdmittedBytes].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}

	stripped := make(typesense.Document, len(doc))
	for k, v := range doc {
		if k == tenancy.FieldTenantID || k == tenancy.FieldIndexedAt || k == tenancy.FieldAdmittedBytes {
			continue
		}
		stripped[k] = v
	}
	encoded, err := json.Marshal(stripped)
	if err != nil {
		return 0
	}
	return int64(len(encoded))
}
