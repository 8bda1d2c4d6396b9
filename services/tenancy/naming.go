// Package tenancy holds the tenant isolation conventions shared by the request path and the pipeline.
package tenancy

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	// DefaultIndexName is used when a caller does not name an index
	DefaultIndexName = "default"

	// Reserved document fields written by the gateway
	FieldID        = "id"
	FieldTenantID  = "tenant_id"
	FieldIndexedAt = "indexed_at"
	// FieldAdmittedBytes is the size the document was admitted with, released on delete
	FieldAdmittedBytes = "admitted_bytes"
)

var (
	plainIndexName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	validIndexName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
)

// CollectionName maps (tenant, index name) to the engine collection name. Lowercase names
// are used as-is after an "n" marker; anything else is hex encoded after an "h" marker, so
// two distinct pairs never share a name. An empty index name means DefaultIndexName.
func CollectionName(tenantID uint, indexName string) string {
	indexName = NormalizeIndexName(indexName)
	if plainIndexName.MatchString(indexName) {
		return fmt.Sprintf("t%d_n_%s", tenantID, indexName)
	}
	return fmt.Sprintf("t%d_h_%s", tenantID, hex.EncodeToString([]byte(indexName)))
}

// NormalizeIndexName maps the empty name to DefaultIndexName
func NormalizeIndexName(indexName string) string {
	if indexName == "" {
		return DefaultIndexName
	}
	return indexName
}

// IsValidIndexName reports whether a caller supplied index name is acceptable
func IsValidIndexName(indexName string) bool {
	return indexName == "" || validIndexName.MatchString(indexName)
}

// TenantValue is the string stored in the tenant field of every document
func TenantValue(tenantID uint) string {
	return fmt.Sprintf("%d", tenantID)
}
