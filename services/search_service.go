package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"go.uber.org/zap"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// forwardedParams are the caller parameters passed through to the engine unchanged.
// filter_by, page, per_page and max_hits are handled separately.
var forwardedParams = []string{
	"q",
	"query_by",
	"query_by_weights",
	"prefix",
	"infix",
	"sort_by",
	"facet_by",
	"max_facet_values",
	"facet_query",
	"num_typos",
	"group_by",
	"group_limit",
	"include_fields",
	"exclude_fields",
	"highlight_fields",
	"highlight_full_fields",
	"highlight_affix_num_tokens",
	"highlight_start_tag",
	"highlight_end_tag",
	"snippet_threshold",
	"drop_tokens_threshold",
	"typo_tokens_threshold",
	"pinned_hits",
	"hidden_hits",
	"prioritize_exact_match",
	"exhaustive_search",
	"search_cutoff_ms",
}

// SearchConfig holds the search defaults and ceilings
type SearchConfig struct {
	MaxHits        int
	DefaultQueryBy string
}

// SearchService forwards tenant searches to the engine behind a mandatory tenant filter
type SearchService struct {
	engine SearchEngine
	usage  *UsageService
	cfg    SearchConfig
	log    *zap.Logger
}

// NewSearchService creates a new search service
func NewSearchService(engine SearchEngine, usage *UsageService, cfg SearchConfig, log *zap.Logger) *SearchService {
	if cfg.MaxHits <= 0 {
		cfg.MaxHits = 10000
	}
	if cfg.DefaultQueryBy == "" {
		cfg.DefaultQueryBy = "content"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SearchService{engine: engine, usage: usage, cfg: cfg, log: log}
}

// BuildParams normalizes caller parameters into engine parameters for one tenant
func (s *SearchService) BuildParams(tenantID uint, in url.Values) (url.Values, error) {
	out := url.Values{}
	for _, key := range forwardedParams {
		if v := strings.TrimSpace(in.Get(key)); v != "" {
			out.Set(key, v)
		}
	}
	if out.Get("q") == "" {
		out.Set("q", "*")
	}
	if out.Get("query_by") == "" {
		out.Set("query_by", s.cfg.DefaultQueryBy)
	}

	out.Set("page", strconv.Itoa(clampInt(in.Get("page"), 1, 1, 0)))
	out.Set("per_page", strconv.Itoa(clampInt(in.Get("per_page"), defaultPerPage, 1, maxPerPage)))
	out.Set("limit_hits", strconv.Itoa(clampInt(in.Get("max_hits"), s.cfg.MaxHits, 1, s.cfg.MaxHits)))

	filter, err := TenantFilter(tenantID, in.Get("filter_by"))
	if err != nil {
		return nil, err
	}
	out.Set("filter_by", filter)

	return out, nil
}

// clampInt parses v, using def when it is missing or not a number, and clamps to [lo, hi].
// hi <= 0 means no upper bound.
func clampInt(v string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		n = def
	}
	if n < lo {
		n = lo
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n
}

// TenantFilter ANDs the caller's filter with the tenant clause. The caller filter is
// parenthesized and must be balanced, so it can never escape the conjunction.
func TenantFilter(tenantID uint, callerFilter string) (string, error) {
	clause := fmt.Sprintf("%s:=`%s`", tenancy.FieldTenantID, tenancy.TenantValue(tenantID))

	callerFilter = strings.TrimSpace(callerFilter)
	if callerFilter == "" {
		return clause, nil
	}
	if err := checkBalanced(callerFilter); err != nil {
		return "", err
	}
	return "(" + callerFilter + ") && " + clause, nil
}

func checkBalanced(filter string) error {
	depth := 0
	inBacktick := false
	for _, r := range filter {
		switch {
		case r == '`':
			inBacktick = !inBacktick
		case inBacktick:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return validationError("filter_by has an unmatched ')'")
			}
		}
	}
	if inBacktick {
		return validationError("filter_by has an unterminated backtick")
	}
	if depth != 0 {
		return validationError("filter_by has an unmatched '('")
	}
	return nil
}

// Search runs a tenant-isolated search on the logical index named by collection_name
func (s *SearchService) Search(ctx context.Context, tc TenantContext, in url.Values) (*typesense.SearchResult, error) {
	start := time.Now()

	if err := tc.Require(model.PermissionSearch); err != nil {
		return nil, err
	}

	indexName := in.Get("collection_name")
	if err := ValidateIndexName(indexName); err != nil {
		return nil, err
	}
	indexName = tenancy.NormalizeIndexName(indexName)

	params, err := s.BuildParams(tc.TenantID, in)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Search(ctx, CollectionName(tc.TenantID, indexName), params)
	elapsed := time.Since(start)
	if err != nil {
		searchLatency.WithLabelValues("error").Observe(elapsed.Seconds())
		var serr *Error
		if typesense.IsNotFound(err) {
			serr = notFound("index %q not found", indexName)
		} else {
			serr = engineError("search failed", err, typesense.IsRetryable(err))
		}
		s.usage.LogFor(ctx, tc, model.UsageLog{
			Operation:        model.OperationSearch,
			Status:           model.UsageStatusFailed,
			Collection:       indexName,
			ProcessingTimeMs: elapsed.Milliseconds(),
			ErrorMessage:     serr.Message,
		})
		return nil, serr
	}

	if dropped := filterForeignHits(tc.TenantID, result); dropped > 0 {
		// The engine filter should make this unreachable
		s.log.Error("dropped hits from another tenant",
			zap.Uint("tenant_id", tc.TenantID),
			zap.String("index", indexName),
			zap.Int("dropped", dropped),
		)
	}

	searchLatency.WithLabelValues("ok").Observe(elapsed.Seconds())
	s.usage.LogFor(ctx, tc, model.UsageLog{
		Operation:          model.OperationSearch,
		Status:             model.UsageStatusSuccess,
		Collection:         indexName,
		DocumentsProcessed: hitCount(result),
		ProcessingTimeMs:   elapsed.Milliseconds(),
	})

	return result, nil
}

// filterForeignHits removes hits not stamped with the tenant, in plain and grouped
// results, and returns how many were removed
func filterForeignHits(tenantID uint, result *typesense.SearchResult) int {
	want := tenancy.TenantValue(tenantID)
	own := func(hits []typesense.Hit) ([]typesense.Hit, int) {
		kept := make([]typesense.Hit, 0, len(hits))
		for _, hit := range hits {
			if v, ok := hit.Document[tenancy.FieldTenantID].(string); ok && v == want {
				kept = append(kept, hit)
			}
		}
		return kept, len(hits) - len(kept)
	}

	var dropped int
	result.Hits, dropped = own(result.Hits)
	result.Found = clampZero(result.Found - dropped)

	if result.GroupedHits != nil {
		groups := make([]typesense.GroupedHit, 0, len(result.GroupedHits))
		droppedDocs := 0
		for _, group := range result.GroupedHits {
			hits, n := own(group.Hits)
			droppedDocs += n
			if len(hits) == 0 {
				continue
			}
			group.Hits = hits
			group.Found = clampZero(group.Found - n)
			groups = append(groups, group)
		}
		result.Found = clampZero(result.Found - (len(result.GroupedHits) - len(groups)))
		result.FoundDocs = clampZero(result.FoundDocs - droppedDocs)
		result.GroupedHits = groups
		dropped += droppedDocs
	}
	return dropped
}

func hitCount(result *typesense.SearchResult) int {
	n := len(result.Hits)
	for _, group := range result.GroupedHits {
		n += len(group.Hits)
	}
	return n
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
