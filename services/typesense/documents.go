package typesense

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ImportAction is the write semantic of a bulk import
type ImportAction string

const (
	ActionUpsert  ImportAction = "upsert"
	ActionCreate  ImportAction = "create"
	ActionUpdate  ImportAction = "update"
	ActionEmplace ImportAction = "emplace"
)

// Valid reports whether the engine understands the action
func (a ImportAction) Valid() bool {
	switch a {
	case ActionUpsert, ActionCreate, ActionUpdate, ActionEmplace:
		return true
	}
	return false
}

// ImportOptions are the query parameters of an import call
type ImportOptions struct {
	Action    ImportAction
	BatchSize int
}

// ImportResult is one line of the import response, in document order
type ImportResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Document string `json:"document,omitempty"`
}

// ImportResponse summarizes an import call
type ImportResponse struct {
	Results []ImportResult
	Success int
	Failed  int
}

// FirstError returns the first per-document error message, if any
func (r *ImportResponse) FirstError() string {
	for _, res := range r.Results {
		if !res.Success {
			return res.Error
		}
	}
	return ""
}

// ImportDocuments bulk writes documents as JSONL. A 200 response can still carry per-document failures.
func (c *Client) ImportDocuments(ctx context.Context, collection string, documents []Document, opts ImportOptions) (*ImportResponse, error) {
	if opts.Action == "" {
		opts.Action = ActionUpsert
	}

	var body bytes.Buffer
	for i, doc := range documents {
		line, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document %d: %w", i, err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	query := url.Values{}
	query.Set("action", string(opts.Action))
	query.Set("dirty_values", "coerce_or_reject")
	if opts.BatchSize > 0 {
		query.Set("batch_size", strconv.Itoa(opts.BatchSize))
	}

	endpoint := "/collections/" + url.PathEscape(collection) + "/documents/import"
	respBody, err := c.send(ctx, c.importClient, http.MethodPost, endpoint, query, "text/plain", &body)
	if err != nil {
		return nil, err
	}

	result := &ImportResponse{}
	scanner := bufio.NewScanner(bytes.NewReader(respBody))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var res ImportResult
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("failed to decode import result: %w", err)
		}
		if res.Success {
			result.Success++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import response: %w", err)
	}

	return result, nil
}

// RetrieveDocument fetches one document by id
func (c *Client) RetrieveDocument(ctx context.Context, collection, id string) (Document, error) {
	var result Document
	endpoint := "/collections/" + url.PathEscape(collection) + "/documents/" + url.PathEscape(id)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteDocument removes one document and returns it as stored
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) (Document, error) {
	var result Document
	endpoint := "/collections/" + url.PathEscape(collection) + "/documents/" + url.PathEscape(id)
	if err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Hit is one search result
type Hit struct {
	Document      Document        `json:"document"`
	Highlights    json.RawMessage `json:"highlights,omitempty"`
	Highlight     json.RawMessage `json:"highlight,omitempty"`
	TextMatch     int64           `json:"text_match,omitempty"`
	TextMatchInfo json.RawMessage `json:"text_match_info,omitempty"`
}

// GroupedHit is one group of a group_by search
type GroupedHit struct {
	GroupKey []interface{} `json:"group_key"`
	Found    int           `json:"found,omitempty"`
	Hits     []Hit         `json:"hits"`
}

// SearchResult is the engine's native search envelope. Grouped searches fill
// GroupedHits and FoundDocs; Found then counts groups.
type SearchResult struct {
	Found         int                    `json:"found"`
	FoundDocs     int                    `json:"found_docs,omitempty"`
	OutOf         int                    `json:"out_of"`
	Page          int                    `json:"page"`
	SearchTimeMs  int                    `json:"search_time_ms"`
	SearchCutoff  bool                   `json:"search_cutoff"`
	FacetCounts   []json.RawMessage      `json:"facet_counts,omitempty"`
	Hits          []Hit                  `json:"hits"`
	GroupedHits   []GroupedHit           `json:"grouped_hits,omitempty"`
	RequestParams map[string]interface{} `json:"request_params,omitempty"`
}

// Search runs a search against one collection with raw engine parameters
func (c *Client) Search(ctx context.Context, collection string, params url.Values) (*SearchResult, error) {
	var result SearchResult
	endpoint := "/collections/" + url.PathEscape(collection) + "/documents/search"
	if err := c.doRequest(ctx, http.MethodGet, endpoint, params, nil, &result); err != nil {
		return nil, err
	}
	if result.Hits == nil {
		result.Hits = []Hit{}
	}
	return &result, nil
}
