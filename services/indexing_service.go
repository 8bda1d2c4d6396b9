package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/pipeline"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"go.uber.org/zap"
)

// GroupEnqueuer hands accepted submissions to the pipeline
type GroupEnqueuer interface {
	EnqueueGroup(ctx context.Context, job pipeline.GroupJob) (string, error)
}

// IndexingConfig bounds what a single submission may carry
type IndexingConfig struct {
	MaxDocumentSizeBytes   int
	MaxDocumentsPerRequest int
}

// IndexingService is the synchronous half of the write path: validate, enrich, admit, enqueue
type IndexingService struct {
	usage    *UsageService
	enqueuer GroupEnqueuer
	cfg      IndexingConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewIndexingService creates a new indexing service
func NewIndexingService(usage *UsageService, enqueuer GroupEnqueuer, cfg IndexingConfig, log *zap.Logger) *IndexingService {
	if cfg.MaxDocumentSizeBytes <= 0 {
		cfg.MaxDocumentSizeBytes = 100 * 1024
	}
	if cfg.MaxDocumentsPerRequest <= 0 {
		cfg.MaxDocumentsPerRequest = 10000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IndexingService{usage: usage, enqueuer: enqueuer, cfg: cfg, log: log, now: time.Now}
}

// SubmitRequest is one index call: a single JSON object or an array of objects
type SubmitRequest struct {
	IndexName string
	Body      json.RawMessage
	Action    typesense.ImportAction
}

// SubmitResult is returned once the submission is durably queued
type SubmitResult struct {
	SubmissionID string          `json:"submission_id"`
	JobID        string          `json:"job_id"`
	IndexName    string          `json:"index_name"`
	Documents    int             `json:"documents"`
	Operation    model.Operation `json:"operation"`
}

// Submit validates and enriches the documents, checks quota and enqueues one grouping job.
// It returns as soon as the job is queued; indexing outcomes appear in the usage log.
func (s *IndexingService) Submit(ctx context.Context, tc TenantContext, req SubmitRequest) (*SubmitResult, error) {
	start := s.now()

	if err := tc.Require(model.PermissionWrite); err != nil {
		return nil, err
	}
	if err := ValidateIndexName(req.IndexName); err != nil {
		return nil, err
	}
	indexName := tenancy.NormalizeIndexName(req.IndexName)

	action := req.Action
	if action == "" {
		action = typesense.ActionUpsert
	}
	if !action.Valid() {
		return nil, validationError("action must be one of upsert, create, update, emplace")
	}

	docs, operation, err := parseDocuments(req.Body)
	if err != nil {
		return nil, err
	}
	if len(docs) > s.cfg.MaxDocumentsPerRequest {
		return nil, s.reject(ctx, tc, operation, indexName, len(docs), start,
			validationError("too many documents: %d exceeds the limit of %d per request", len(docs), s.cfg.MaxDocumentsPerRequest))
	}

	items, total, err := s.enrich(tc, indexName, docs)
	if err != nil {
		return nil, s.reject(ctx, tc, operation, indexName, len(docs), start, err)
	}

	if err := s.usage.CheckAdmission(ctx, tc.TenantID, len(items), total, CollectionName(tc.TenantID, indexName)); err != nil {
		return nil, s.reject(ctx, tc, operation, indexName, len(docs), start, err)
	}

	submissionID := uuid.NewString()
	jobID, err := s.enqueuer.EnqueueGroup(ctx, pipeline.GroupJob{
		SubmissionID: submissionID,
		TenantID:     tc.TenantID,
		APIKeyID:     tc.keyID(),
		Operation:    operation,
		Action:       action,
		Items:        items,
		AcceptedAt:   start,
	})
	if err != nil {
		return nil, s.reject(ctx, tc, operation, indexName, len(docs), start, storeError("failed to enqueue submission", err))
	}

	submissionsAccepted.WithLabelValues("accepted").Inc()
	s.log.Info("submission accepted",
		zap.String("submission_id", submissionID),
		zap.Uint("tenant_id", tc.TenantID),
		zap.String("index", indexName),
		zap.Int("documents", len(items)),
		zap.Int64("bytes", total),
	)

	return &SubmitResult{
		SubmissionID: submissionID,
		JobID:        jobID,
		IndexName:    indexName,
		Documents:    len(items),
		Operation:    operation,
	}, nil
}

// parseDocuments accepts a JSON object or a non-empty array of objects. Numbers are kept
// as json.Number so caller values pass through unchanged.
func parseDocuments(body json.RawMessage) ([]map[string]interface{}, model.Operation, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, model.OperationIndex, validationError("body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '{':
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			return nil, model.OperationIndex, validationError("body must be a JSON object or an array of objects")
		}
		if err := expectEOF(dec); err != nil {
			return nil, model.OperationIndex, err
		}
		return []map[string]interface{}{doc}, model.OperationIndex, nil
	case '[':
		var raw []json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, model.OperationBulkIndex, validationError("body must be a JSON object or an array of objects")
		}
		if err := expectEOF(dec); err != nil {
			return nil, model.OperationBulkIndex, err
		}
		if len(raw) == 0 {
			return nil, model.OperationBulkIndex, validationError("body must contain at least one document")
		}
		docs := make([]map[string]interface{}, len(raw))
		for i, elem := range raw {
			elem = bytes.TrimSpace(elem)
			if len(elem) == 0 || elem[0] != '{' {
				return nil, model.OperationBulkIndex, validationError("document %d is not a JSON object", i)
			}
			d := json.NewDecoder(bytes.NewReader(elem))
			d.UseNumber()
			if err := d.Decode(&docs[i]); err != nil {
				return nil, model.OperationBulkIndex, validationError("document %d is not a JSON object", i)
			}
		}
		return docs, model.OperationBulkIndex, nil
	default:
		return nil, model.OperationIndex, validationError("body must be a JSON object or an array of objects")
	}
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return validationError("body must contain a single JSON value")
	}
	return nil
}

// enrich checks every document against the size cap before touching any of them, then
// attaches the reserved fields. One oversize document rejects the whole submission.
func (s *IndexingService) enrich(tc TenantContext, indexName string, docs []map[string]interface{}) ([]pipeline.Item, int64, error) {
	sizes := make([]int64, len(docs))
	var total int64
	for i, doc := range docs {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, 0, validationError("document %d cannot be encoded", i)
		}
		size := int64(len(encoded))
		if size > int64(s.cfg.MaxDocumentSizeBytes) {
			verr := validationError("document %d is %d bytes, exceeding the %d byte limit", i, size, s.cfg.MaxDocumentSizeBytes)
			verr.Meta = map[string]interface{}{"index": i, "size": size, "limit": s.cfg.MaxDocumentSizeBytes}
			return nil, 0, verr
		}
		sizes[i] = size
		total += size
	}

	indexedAt := s.now().UnixMilli()
	tenant := tenancy.TenantValue(tc.TenantID)
	items := make([]pipeline.Item, len(docs))
	for i, doc := range docs {
		id, err := documentID(doc[tenancy.FieldID])
		if err != nil {
			return nil, 0, validationError("document %d: %s", i, err.Error())
		}

		enriched := make(typesense.Document, len(doc)+4)
		for k, v := range doc {
			enriched[k] = v
		}
		enriched[tenancy.FieldID] = id
		enriched[tenancy.FieldTenantID] = tenant
		enriched[tenancy.FieldIndexedAt] = indexedAt
		enriched[tenancy.FieldAdmittedBytes] = sizes[i]

		items[i] = pipeline.Item{IndexName: indexName, Document: enriched, Size: sizes[i]}
	}

	return items, total, nil
}

// documentID keeps a caller id, stringifying numbers, or generates one
func documentID(v interface{}) (string, error) {
	switch id := v.(type) {
	case nil:
		return uuid.NewString(), nil
	case string:
		if id == "" {
			return uuid.NewString(), nil
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", errors.New("id must be a string or a number")
	}
}

func (s *IndexingService) reject(ctx context.Context, tc TenantContext, op model.Operation, indexName string, documents int, start time.Time, err error) error {
	submissionsAccepted.WithLabelValues("rejected").Inc()

	message := err.Error()
	if e, ok := AsError(err); ok && e.Message != "" {
		message = e.Message
	}
	s.usage.LogFor(ctx, tc, model.UsageLog{
		Operation:          op,
		Status:             model.UsageStatusFailed,
		Collection:         indexName,
		DocumentsProcessed: documents,
		ProcessingTimeMs:   s.now().Sub(start).Milliseconds(),
		ErrorMessage:       message,
	})
	return err
}
