package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/api"
	"github.com/sahilchouksey/search-gateway/database"
	"github.com/sahilchouksey/search-gateway/handlers"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/router"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/pipeline"
	"github.com/sahilchouksey/search-gateway/services/queue"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"github.com/sahilchouksey/search-gateway/services/typesense/typesensetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	app    *fiber.App
	store  *database.GORMStore
	engine *typesensetest.Server
	queue  *queue.MemoryQueue
	tenant model.Tenant
	keys   map[model.KeyType]string
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	store, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	db := store.GetDB()

	engine := typesensetest.NewServer()
	t.Cleanup(engine.Close)

	jobs := queue.NewMemoryQueue()
	t.Cleanup(func() { jobs.Close() })

	tenant := model.Tenant{Name: "acme", DocumentLimit: 100, StorageLimitBytes: 1 << 20}
	require.NoError(t, db.Create(&tenant).Error)

	usage := services.NewUsageService(db, nil)
	collections := services.NewCollectionService(db, engine.Client(), nil, nil)
	apiKeys := services.NewAPIKeyService(db, services.APIKeyConfig{}, nil, nil)
	indexer := pipeline.New(jobs, collections, engine.Client(), usage, nil, pipeline.Config{}, nil)

	keys := make(map[model.KeyType]string)
	for _, kt := range []model.KeyType{model.KeyTypeSearch, model.KeyTypeWrite, model.KeyTypeAdmin} {
		key, err := apiKeys.Create(context.Background(), tenant.ID, services.CreateKeyInput{Name: string(kt), Type: kt})
		require.NoError(t, err)
		keys[kt] = key.PlainKey
	}

	server := api.NewAPIServer(api.Config{BodyLimit: 4 << 20})
	app := server.GetEngine()
	router.SetupRoutes(app, router.Services{
		Store:       store,
		APIKeys:     apiKeys,
		Indexing:    services.NewIndexingService(usage, indexer, services.IndexingConfig{}, nil),
		Search:      services.NewSearchService(engine.Client(), usage, services.SearchConfig{}, nil),
		Documents:   services.NewDocumentService(engine.Client(), usage, nil),
		Collections: collections,
		Usage:       usage,
		HealthChecks: map[string]handlers.Pinger{
			"search_engine": handlers.PingFunc(engine.Client().HealthCheck),
		},
		RequestTimeout: 5 * time.Second,
	})

	return &gateway{app: app, store: store, engine: engine, queue: jobs, tenant: tenant, keys: keys}
}

func (g *gateway) do(t *testing.T, method, path, key string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := g.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func errorCode(body map[string]interface{}) string {
	detail, _ := body["error"].(map[string]interface{})
	code, _ := detail["code"].(string)
	return code
}

func TestPublicRoutes(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = g.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "ok", checks["search_engine"])
}

func TestUnknownRoutes(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(services.KindNotFound), errorCode(body))

	resp, _ = g.do(t, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = g.do(t, http.MethodGet, "/api/nope", g.keys[model.KeyTypeSearch], "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(services.KindNotFound), errorCode(body))
}

func TestHealthDegradedWhenEngineDown(t *testing.T) {
	g := newGateway(t)
	g.engine.Close()

	resp, body := g.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestAPIRequiresKey(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodGet, "/api/search?q=hello", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(services.KindUnauthorized), errorCode(body))

	resp, _ = g.do(t, http.MethodGet, "/api/search?q=hello", "sk_live_unknown_key_value", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIndexAccepted(t *testing.T) {
	g := newGateway(t)

	payload := `{"indexName":"products","body":[{"id":"1","content":"a"},{"id":"2","content":"b"},{"content":"c"}]}`
	resp, body := g.do(t, http.MethodPost, "/api/index", g.keys[model.KeyTypeWrite], payload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "products", data["index_name"])
	assert.Equal(t, float64(3), data["documents"])
	assert.NotEmpty(t, data["job_id"])

	assert.Len(t, g.queue.Pending(pipeline.GroupQueue), 1)
}

func TestIndexRequiresWritePermission(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodPost, "/api/index", g.keys[model.KeyTypeSearch], `{"body":{"id":"1"}}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(services.KindPermissionDenied), errorCode(body))
	assert.Empty(t, g.queue.Pending(pipeline.GroupQueue))
}

func TestIndexRejectsOversizeDocument(t *testing.T) {
	g := newGateway(t)

	big := strings.Repeat("x", 150*1024)
	payload := fmt.Sprintf(`{"body":[{"id":"1","content":"ok"},{"id":"2","content":%q}]}`, big)
	resp, body := g.do(t, http.MethodPost, "/api/index", g.keys[model.KeyTypeWrite], payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(services.KindValidation), errorCode(body))
	assert.Empty(t, g.queue.Pending(pipeline.GroupQueue))
}

func TestSearchIsTenantScoped(t *testing.T) {
	g := newGateway(t)

	name := services.CollectionName(g.tenant.ID, "default")
	tenantID := fmt.Sprint(g.tenant.ID)
	g.engine.Seed(name, typesense.Document{"id": "1", "content": "hello world", "tenant_id": tenantID})
	g.engine.ForeignHits = []typesense.Document{{"id": "x", "content": "hello", "tenant_id": "9999"}}

	resp, body := g.do(t, http.MethodGet, "/api/search?q=hello&filter_by=price:>10", g.keys[model.KeyTypeSearch], "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	hits := body["hits"].([]interface{})
	require.Len(t, hits, 1)
	doc := hits[0].(map[string]interface{})["document"].(map[string]interface{})
	assert.Equal(t, "1", doc["id"])

	filter := g.engine.LastSearch().Get("filter_by")
	assert.Contains(t, filter, "tenant_id:=`"+tenantID+"`")
	assert.Contains(t, filter, "price:>10")
}

func TestSearchUnknownIndex(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodGet, "/api/search?q=*&collection_name=missing", g.keys[model.KeyTypeSearch], "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(services.KindNotFound), errorCode(body))
}

func TestDocumentRoutes(t *testing.T) {
	g := newGateway(t)

	name := services.CollectionName(g.tenant.ID, "docs")
	g.engine.Seed(name, typesense.Document{"id": "a", "content": "hello", "tenant_id": fmt.Sprint(g.tenant.ID)})

	resp, body := g.do(t, http.MethodGet, "/api/documents/a?indexName=docs", g.keys[model.KeyTypeSearch], "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, _ = g.do(t, http.MethodDelete, "/api/documents/a?indexName=docs", g.keys[model.KeyTypeSearch], "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = g.do(t, http.MethodGet, "/api/documents/ghost?indexName=docs", g.keys[model.KeyTypeSearch], "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKeyManagementIsAdminOnly(t *testing.T) {
	g := newGateway(t)

	resp, _ := g.do(t, http.MethodGet, "/api/keys", g.keys[model.KeyTypeWrite], "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := g.do(t, http.MethodGet, "/api/keys", g.keys[model.KeyTypeAdmin], "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Len(t, body["data"].([]interface{}), 3)

	resp, body = g.do(t, http.MethodPost, "/api/keys", g.keys[model.KeyTypeAdmin], `{"name":"ci","type":"write"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	created := body["data"].(map[string]interface{})
	assert.NotEmpty(t, created["api_key"])

	resp, body = g.do(t, http.MethodPost, "/api/keys", g.keys[model.KeyTypeAdmin], `{"type":"root"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(services.KindValidation), errorCode(body))
}

func TestRevokedKeyIsRejected(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, http.MethodPost, "/api/keys", g.keys[model.KeyTypeAdmin], `{"name":"temp","type":"search"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	created := body["data"].(map[string]interface{})
	secret := created["api_key"].(string)

	resp, _ = g.do(t, http.MethodGet, "/api/usage", secret, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, http.MethodDelete, fmt.Sprintf("/api/keys/%v", created["id"]), g.keys[model.KeyTypeAdmin], "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, http.MethodGet, "/api/usage", secret, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
