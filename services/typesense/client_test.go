package typesense_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sahilchouksey/search-gateway/services/typesense"
	"github.com/sahilchouksey/search-gateway/services/typesense/typesensetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionLifecycle(t *testing.T) {
	engine := typesensetest.NewServer()
	defer engine.Close()
	client := engine.Client()
	ctx := context.Background()

	_, err := client.RetrieveCollection(ctx, "t1_n_default")
	require.Error(t, err)
	assert.True(t, typesense.IsNotFound(err))

	schema := typesense.CollectionSchema{
		Name:                "t1_n_default",
		Fields:              []typesense.Field{{Name: "indexed_at", Type: "int64"}, {Name: ".*", Type: "auto"}},
		DefaultSortingField: "indexed_at",
	}
	created, err := client.CreateCollection(ctx, schema)
	require.NoError(t, err)
	assert.Equal(t, "t1_n_default", created.Name)

	_, err = client.CreateCollection(ctx, schema)
	require.Error(t, err)
	assert.True(t, typesense.IsConflict(err))
	assert.False(t, typesense.IsRetryable(err))

	got, err := client.RetrieveCollection(ctx, "t1_n_default")
	require.NoError(t, err)
	assert.Equal(t, "indexed_at", got.DefaultSortingField)

	require.NoError(t, client.DeleteCollection(ctx, "t1_n_default"))
	assert.Empty(t, engine.CollectionNames())
}

func TestImportDocumentsReportsPerDocumentFailures(t *testing.T) {
	engine := typesensetest.NewServer()
	engine.RejectDocument = "bad"
	defer engine.Close()
	client := engine.Client()
	ctx := context.Background()

	_, err := client.CreateCollection(ctx, typesense.CollectionSchema{Name: "c"})
	require.NoError(t, err)

	resp, err := client.ImportDocuments(ctx, "c", []typesense.Document{
		{"id": "1", "content": "a"},
		{"id": "bad", "content": 7},
		{"id": "2", "content": "b"},
	}, typesense.ImportOptions{BatchSize: 40})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Success)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "Field `content` must be a string.", resp.FirstError())

	imports := engine.Imports()
	require.Len(t, imports, 1)
	assert.Equal(t, "upsert", imports[0].Action)
	assert.Equal(t, 3, imports[0].Documents)
}

func TestSearchForwardsParams(t *testing.T) {
	engine := typesensetest.NewServer()
	defer engine.Close()
	engine.Seed("c", typesense.Document{"id": "1", "tenant_id": "1"})
	client := engine.Client()

	params := url.Values{}
	params.Set("q", "hello")
	params.Set("filter_by", "tenant_id:=`1`")
	result, err := client.Search(context.Background(), "c", params)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "1", result.Hits[0].Document["id"])
	assert.Equal(t, "tenant_id:=`1`", engine.LastSearch().Get("filter_by"))
}

func TestDeleteMissingDocument(t *testing.T) {
	engine := typesensetest.NewServer()
	defer engine.Close()
	engine.Seed("c")

	_, err := engine.Client().DeleteDocument(context.Background(), "c", "nope")
	require.Error(t, err)
	assert.True(t, typesense.IsNotFound(err))
}

func TestUnreachableEngineIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client := typesense.NewClient(typesense.Config{BaseURL: baseURL, APIKey: "x"})
	_, err := client.RetrieveCollection(context.Background(), "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, typesense.ErrUnavailable)
	assert.True(t, typesense.IsRetryable(err))
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"Not Ready or Lagging"}`))
	}))
	defer srv.Close()

	client := typesense.NewClient(typesense.Config{BaseURL: srv.URL, APIKey: "x"})
	err := client.HealthCheck(context.Background())
	require.Error(t, err)

	var apiErr *typesense.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not Ready or Lagging", apiErr.Message)
	assert.True(t, typesense.IsRetryable(err))
}
