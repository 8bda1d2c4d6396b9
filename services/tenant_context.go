package services

import (
	"unicode/utf8"

	"github.com/sahilchouksey/search-gateway/model"
)

// TenantContext is the immutable identity produced by a successful key validation
// and passed explicitly to every downstream call.
type TenantContext struct {
	TenantID    uint
	APIKeyID    uint
	KeyType     model.KeyType
	Permissions model.Permissions
	RateLimit   int
	// RequestCount is the lifetime count after this call was admitted
	RequestCount int64

	// Request metadata recorded on synchronous usage logs
	IPAddress string
	UserAgent string
}

// HasPermission is a pure lookup against the key's permission set
func (tc TenantContext) HasPermission(p model.Permission) bool {
	return tc.Permissions.Has(p)
}

// IsAdmin reports whether the key may manage the tenant's keys
func (tc TenantContext) IsAdmin() bool {
	return tc.KeyType == model.KeyTypeAdmin
}

// Require fails with PERMISSION_DENIED unless the key holds p
func (tc TenantContext) Require(p model.Permission) error {
	if !tc.HasPermission(p) {
		return permissionDenied("API key lacks the %q permission", p)
	}
	return nil
}

// MaxUserAgentLength matches the usage_logs.user_agent column
const MaxUserAgentLength = 512

// WithRequest returns a copy carrying the caller's network metadata. The user agent is
// cut to MaxUserAgentLength bytes on a rune boundary.
func (tc TenantContext) WithRequest(ip, userAgent string) TenantContext {
	tc.IPAddress = ip
	tc.UserAgent = truncateUTF8(userAgent, MaxUserAgentLength)
	return tc
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (tc TenantContext) keyID() *uint {
	if tc.APIKeyID == 0 {
		return nil
	}
	id := tc.APIKeyID
	return &id
}
