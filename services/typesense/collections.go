package typesense

import (
	"context"
	"net/http"
	"net/url"
)

// Field is one entry of a collection schema
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Index    *bool  `json:"index,omitempty"`
	Sort     *bool  `json:"sort,omitempty"`
}

// CollectionSchema is the body of a create collection request
type CollectionSchema struct {
	Name                string  `json:"name"`
	Fields              []Field `json:"fields"`
	DefaultSortingField string  `json:"default_sorting_field,omitempty"`
}

// Collection is the engine's view of a collection
type Collection struct {
	Name                string  `json:"name"`
	NumDocuments        int64   `json:"num_documents"`
	CreatedAt           int64   `json:"created_at"`
	Fields              []Field `json:"fields"`
	DefaultSortingField string  `json:"default_sorting_field"`
}

// RetrieveCollection fetches a collection; a missing collection yields an error matching IsNotFound
func (c *Client) RetrieveCollection(ctx context.Context, name string) (*Collection, error) {
	var result Collection
	if err := c.doRequest(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCollection creates a collection; an existing one yields an error matching IsConflict
func (c *Client) CreateCollection(ctx context.Context, schema CollectionSchema) (*Collection, error) {
	var result Collection
	if err := c.doRequest(ctx, http.MethodPost, "/collections", nil, schema, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListCollections returns every collection on the engine
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var result []Collection
	if err := c.doRequest(ctx, http.MethodGet, "/collections", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteCollection drops a collection and all its documents
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.doRequest(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil, nil)
}
