package services

import (
	"context"
	"net/url"

	"github.com/sahilchouksey/search-gateway/services/typesense"
)

// SearchEngine is the subset of the Typesense API the gateway depends on
type SearchEngine interface {
	ListCollections(ctx context.Context) ([]typesense.Collection, error)
	RetrieveCollection(ctx context.Context, name string) (*typesense.Collection, error)
	CreateCollection(ctx context.Context, schema typesense.CollectionSchema) (*typesense.Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	ImportDocuments(ctx context.Context, collection string, documents []typesense.Document, opts typesense.ImportOptions) (*typesense.ImportResponse, error)
	RetrieveDocument(ctx context.Context, collection, id string) (typesense.Document, error)
	DeleteDocument(ctx context.Context, collection, id string) (typesense.Document, error)
	Search(ctx context.Context, collection string, params url.Values) (*typesense.SearchResult, error)
	HealthCheck(ctx context.Context) error
}

var _ SearchEngine = (*typesense.Client)(nil)
