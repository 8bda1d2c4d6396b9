package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantFilter(t *testing.T) {
	got, err := services.TenantFilter(7, "")
	require.NoError(t, err)
	assert.Equal(t, "tenant_id:=`7`", got)

	got, err = services.TenantFilter(7, " category:=books ")
	require.NoError(t, err)
	assert.Equal(t, "(category:=books) && tenant_id:=`7`", got)

	got, err = services.TenantFilter(7, "title:=`a (b`")
	require.NoError(t, err)
	assert.Equal(t, "(title:=`a (b`) && tenant_id:=`7`", got)

	for _, bad := range []string{
		"a:=1) || (tenant_id:=2",
		"(a:=1",
		"a:=1) || tenant_id:=2 && (b:=1",
		"title:=`open",
	} {
		_, err := services.TenantFilter(7, bad)
		assert.True(t, errors.Is(err, services.ErrValidation), bad)
	}
}

func TestBuildParamsClampsPaging(t *testing.T) {
	svc := services.NewSearchService(nil, nil, services.SearchConfig{MaxHits: 500}, nil)

	params, err := svc.BuildParams(3, url.Values{
		"page":     {"-4"},
		"per_page": {"1000"},
		"max_hits": {"99999"},
		"limit":    {"5"},
		"q":        {"shoes"},
		"sort_by":  {"price:asc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", params.Get("page"))
	assert.Equal(t, "100", params.Get("per_page"))
	assert.Equal(t, "500", params.Get("limit_hits"))
	assert.Equal(t, "shoes", params.Get("q"))
	assert.Equal(t, "price:asc", params.Get("sort_by"))
	assert.Equal(t, "content", params.Get("query_by"))
	assert.Empty(t, params.Get("limit"))
	assert.Equal(t, "tenant_id:=`3`", params.Get("filter_by"))

	params, err = svc.BuildParams(3, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "*", params.Get("q"))
	assert.Equal(t, "10", params.Get("per_page"))
}

func seedSearchIndex(t *testing.T) (*services.SearchService, *searchDeps) {
	t.Helper()
	db := openDB(t)
	engine := openEngine(t)
	tenant := createTenant(t, db, 100, 0)

	name := services.CollectionName(tenant.ID, "books")
	tenantValue := fmt.Sprint(tenant.ID)
	engine.Seed(name,
		typesense.Document{"id": "1", "content": "go in action", "tenant_id": tenantValue},
		typesense.Document{"id": "2", "content": "the go programming language", "tenant_id": tenantValue},
	)

	svc := services.NewSearchService(engine.Client(), services.NewUsageService(db, nil), services.SearchConfig{}, nil)
	return svc, &searchDeps{db: db, engine: engine, tenant: tenant}
}

func TestSearchForwardsTenantFilter(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	tc := tenantCtx(deps.tenant.ID, model.PermissionSearch)

	res, err := svc.Search(context.Background(), tc, url.Values{
		"collection_name": {"books"},
		"q":               {"go"},
		"filter_by":       {"year:>2000"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Len(t, res.Hits, 2)

	sent := deps.engine.LastSearch()
	assert.Equal(t, fmt.Sprintf("(year:>2000) && tenant_id:=`%d`", deps.tenant.ID), sent.Get("filter_by"))
	assert.Equal(t, "go", sent.Get("q"))

	var log model.UsageLog
	require.NoError(t, deps.db.First(&log).Error)
	assert.Equal(t, model.OperationSearch, log.Operation)
	assert.Equal(t, model.UsageStatusSuccess, log.Status)
	assert.Equal(t, "books", log.Collection)
	assert.Equal(t, 2, log.DocumentsProcessed)
}

func TestSearchDropsForeignHits(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	deps.engine.ForeignHits = []typesense.Document{
		{"id": "x", "content": "leak", "tenant_id": "999"},
		{"id": "y", "content": "unstamped"},
	}

	res, err := svc.Search(context.Background(), tenantCtx(deps.tenant.ID, model.PermissionSearch), url.Values{"collection_name": {"books"}})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
	assert.Equal(t, 2, res.Found)
	for _, hit := range res.Hits {
		assert.Equal(t, fmt.Sprint(deps.tenant.ID), hit.Document["tenant_id"])
	}
}

func TestSearchKeepsOnlyTenantGroups(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	deps.engine.ForeignHits = []typesense.Document{
		{"id": "x", "content": "leak", "tenant_id": "999"},
		{"id": "y", "content": "unstamped"},
	}

	res, err := svc.Search(context.Background(), tenantCtx(deps.tenant.ID, model.PermissionSearch), url.Values{
		"collection_name": {"books"},
		"group_by":        {"tenant_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant_id", deps.engine.LastSearch().Get("group_by"))

	require.Len(t, res.GroupedHits, 1)
	assert.Equal(t, []interface{}{fmt.Sprint(deps.tenant.ID)}, res.GroupedHits[0].GroupKey)
	assert.Len(t, res.GroupedHits[0].Hits, 2)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, 2, res.FoundDocs)

	var log model.UsageLog
	require.NoError(t, deps.db.First(&log).Error)
	assert.Equal(t, 2, log.DocumentsProcessed)
}

func TestSearchEmptyResultHasEmptyHits(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	deps.engine.Seed(services.CollectionName(deps.tenant.ID, "empty"))

	res, err := svc.Search(context.Background(), tenantCtx(deps.tenant.ID, model.PermissionSearch), url.Values{"collection_name": {"empty"}})
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"hits":[]`)
	assert.NotContains(t, string(raw), "grouped_hits")
}

func TestSearchMissingIndex(t *testing.T) {
	svc, deps := seedSearchIndex(t)

	_, err := svc.Search(context.Background(), tenantCtx(deps.tenant.ID, model.PermissionSearch), url.Values{"collection_name": {"nope"}})
	assert.True(t, errors.Is(err, services.ErrNotFound))

	var log model.UsageLog
	require.NoError(t, deps.db.First(&log).Error)
	assert.Equal(t, model.UsageStatusFailed, log.Status)
}

func TestSearchCannotReachAnotherTenantsIndex(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	other := createTenant(t, deps.db, 100, 0)

	_, err := svc.Search(context.Background(), tenantCtx(other.ID, model.PermissionSearch), url.Values{"collection_name": {"books"}})
	assert.True(t, errors.Is(err, services.ErrNotFound))
}

func TestSearchRequiresPermissionAndValidFilter(t *testing.T) {
	svc, deps := seedSearchIndex(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, tenantCtx(deps.tenant.ID, model.PermissionWrite), url.Values{"collection_name": {"books"}})
	assert.True(t, errors.Is(err, services.ErrPermissionDenied))

	_, err = svc.Search(ctx, tenantCtx(deps.tenant.ID, model.PermissionSearch), url.Values{
		"collection_name": {"books"},
		"filter_by":       {"a:=1) || (b:=2"},
	})
	assert.True(t, errors.Is(err, services.ErrValidation))
	assert.Nil(t, deps.engine.LastSearch())
}
