package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/pipeline"
	"github.com/sahilchouksey/search-gateway/services/queue"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type indexingFixture struct {
	db     *gorm.DB
	queue  *queue.MemoryQueue
	svc    *services.IndexingService
	tenant model.Tenant
	tc     services.TenantContext
}

func newIndexingFixture(t *testing.T, documentLimit int64) *indexingFixture {
	t.Helper()
	db := openDB(t)
	tenant := createTenant(t, db, documentLimit, 0)

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	p := pipeline.New(q, nil, nil, nil, nil, pipeline.Config{}, nil)
	svc := services.NewIndexingService(services.NewUsageService(db, nil), p, services.IndexingConfig{}, nil)

	return &indexingFixture{
		db:     db,
		queue:  q,
		svc:    svc,
		tenant: tenant,
		tc:     tenantCtx(tenant.ID, model.PermissionSearch, model.PermissionWrite),
	}
}

func (f *indexingFixture) queuedGroup(t *testing.T) pipeline.GroupJob {
	t.Helper()
	pending := f.queue.Pending(pipeline.GroupQueue)
	require.Len(t, pending, 1)
	var job pipeline.GroupJob
	require.NoError(t, pending[0].Decode(&job))
	return job
}

func docsJSON(n int) json.RawMessage {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"id":"doc-%d","content":"hello %d"}`, i, i)
	}
	return json.RawMessage("[" + strings.Join(parts, ",") + "]")
}

func TestSubmitQueuesEnrichedDocuments(t *testing.T) {
	f := newIndexingFixture(t, 1000)

	res, err := f.svc.Submit(context.Background(), f.tc, services.SubmitRequest{IndexName: "docs", Body: docsJSON(45)})
	require.NoError(t, err)
	assert.Equal(t, 45, res.Documents)
	assert.Equal(t, model.OperationBulkIndex, res.Operation)
	assert.NotEmpty(t, res.SubmissionID)

	job := f.queuedGroup(t)
	assert.Equal(t, res.SubmissionID, job.SubmissionID)
	assert.Equal(t, f.tenant.ID, job.TenantID)
	require.Len(t, job.Items, 45)
	first := job.Items[0].Document
	assert.Equal(t, "doc-0", first[tenancy.FieldID])
	assert.Equal(t, tenancy.TenantValue(f.tenant.ID), first[tenancy.FieldTenantID])
	assert.NotNil(t, first[tenancy.FieldIndexedAt])
	assert.Equal(t, "docs", job.Items[0].IndexName)

	var logs int64
	require.NoError(t, f.db.Model(&model.UsageLog{}).Count(&logs).Error)
	assert.Equal(t, int64(0), logs)
}

func TestSubmitSingleDocumentIDs(t *testing.T) {
	f := newIndexingFixture(t, 1000)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.tc, services.SubmitRequest{IndexName: "docs", Body: json.RawMessage(`{"id": 12345678901234567890, "price": 1.25}`)})
	require.NoError(t, err)
	assert.Equal(t, model.OperationIndex, res.Operation)

	job := f.queuedGroup(t)
	doc := job.Items[0].Document
	assert.Equal(t, "12345678901234567890", doc["id"])
	assert.Equal(t, json.Number("1.25"), doc["price"])
}

func TestSubmitGeneratesMissingID(t *testing.T) {
	f := newIndexingFixture(t, 1000)

	_, err := f.svc.Submit(context.Background(), f.tc, services.SubmitRequest{Body: json.RawMessage(`{"content":"no id"}`)})
	require.NoError(t, err)

	job := f.queuedGroup(t)
	id, ok := job.Items[0].Document["id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.Equal(t, services.DefaultIndexName, job.Items[0].IndexName)

	// The admitted size excludes the generated id and travels with the document
	assert.Equal(t, int64(len(`{"content":"no id"}`)), job.Items[0].Size)
	assert.Equal(t, json.Number(fmt.Sprint(job.Items[0].Size)), job.Items[0].Document[tenancy.FieldAdmittedBytes])
}

func TestSubmitRejectsOversizeDocument(t *testing.T) {
	f := newIndexingFixture(t, 1000)
	big := strings.Repeat("x", 150*1024)
	body := json.RawMessage(`[{"id":"small","content":"ok"},{"id":"big","content":"` + big + `"}]`)

	_, err := f.svc.Submit(context.Background(), f.tc, services.SubmitRequest{IndexName: "docs", Body: body})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrValidation))

	gerr, ok := services.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 1, gerr.Meta["index"])
	assert.Equal(t, 100*1024, gerr.Meta["limit"])

	assert.Empty(t, f.queue.Pending(pipeline.GroupQueue))

	var logs []model.UsageLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, model.UsageStatusFailed, logs[0].Status)
	assert.Equal(t, "docs", logs[0].Collection)
}

func TestSubmitRejectsOverQuota(t *testing.T) {
	f := newIndexingFixture(t, 2)

	_, err := f.svc.Submit(context.Background(), f.tc, services.SubmitRequest{IndexName: "docs", Body: docsJSON(3)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrQuotaExceeded))

	gerr, _ := services.AsError(err)
	assert.Equal(t, "documents", gerr.Meta["resource"])
	assert.Empty(t, f.queue.Pending(pipeline.GroupQueue))
}

func TestSubmitValidation(t *testing.T) {
	f := newIndexingFixture(t, 1000)
	ctx := context.Background()

	cases := map[string]services.SubmitRequest{
		"bad index name": {IndexName: "../etc", Body: docsJSON(1)},
		"empty body":     {IndexName: "docs"},
		"empty array":    {IndexName: "docs", Body: json.RawMessage(`[]`)},
		"scalar body":    {IndexName: "docs", Body: json.RawMessage(`42`)},
		"array of ints":  {IndexName: "docs", Body: json.RawMessage(`[1,2]`)},
		"bool id":        {IndexName: "docs", Body: json.RawMessage(`{"id":true}`)},
		"bad action":     {IndexName: "docs", Body: docsJSON(1), Action: "replace"},
		"trailing data":  {IndexName: "docs", Body: json.RawMessage(`{"a":1}{"b":2}`)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, f.tc, req)
			assert.True(t, errors.Is(err, services.ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, f.queue.Pending(pipeline.GroupQueue))
}

func TestSubmitRequiresWritePermission(t *testing.T) {
	f := newIndexingFixture(t, 1000)
	reader := tenantCtx(f.tenant.ID, model.PermissionSearch)

	_, err := f.svc.Submit(context.Background(), reader, services.SubmitRequest{IndexName: "docs", Body: docsJSON(1)})
	assert.True(t, errors.Is(err, services.ErrPermissionDenied))
}
