package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

const (
	// APIKeyHeader carries the caller's secret
	APIKeyHeader = "X-API-Key"

	tenantContextKey = "tenant_context"
)

// KeyValidator authenticates an API key secret
type KeyValidator interface {
	Validate(ctx context.Context, secret string) (services.TenantContext, error)
}

// APIKeyMiddleware handles API key authentication and rate limiting
type APIKeyMiddleware struct {
	validator KeyValidator
	timeout   time.Duration
	guard     *BruteForceGuard
}

// NewAPIKeyMiddleware creates a new API key middleware. timeout bounds each request's synchronous work.
// guard may be nil.
func NewAPIKeyMiddleware(validator KeyValidator, timeout time.Duration, guard *BruteForceGuard) *APIKeyMiddleware {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &APIKeyMiddleware{
		validator: validator,
		timeout:   timeout,
		guard:     guard,
	}
}

// Authenticate validates the API key, counts the call against its rate limit and stores
// the TenantContext for the handler.
func (m *APIKeyMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := strings.TrimSpace(c.Get(APIKeyHeader))
		if secret == "" {
			// Accept "Authorization: Bearer sk_live_..." as an alternative
			secret = strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		}
		if secret == "" {
			return response.Unauthorized(c, "API key required")
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), m.timeout)
		defer cancel()
		c.SetUserContext(ctx)

		if m.guard != nil {
			if remaining := m.guard.Locked(ctx, c.IP()); remaining > 0 {
				return m.guard.reject(c, remaining)
			}
		}

		tc, err := m.validator.Validate(ctx, secret)
		if err != nil {
			if m.guard != nil && errors.Is(err, services.ErrUnauthorized) {
				m.guard.RecordFailure(ctx, c.IP())
			}
			return response.FromError(c, err)
		}

		c.Locals(tenantContextKey, tc.WithRequest(c.IP(), c.Get(fiber.HeaderUserAgent)))
		return c.Next()
	}
}

// RequirePermission rejects callers whose key lacks p
func RequirePermission(p model.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := GetTenant(c)
		if !ok {
			return response.Unauthorized(c, "")
		}
		if err := tc.Require(p); err != nil {
			return response.FromError(c, err)
		}
		return c.Next()
	}
}

// RequireAdminKey rejects callers not using an admin key
func RequireAdminKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := GetTenant(c)
		if !ok {
			return response.Unauthorized(c, "")
		}
		if !tc.IsAdmin() {
			return response.Forbidden(c, "An admin API key is required")
		}
		return c.Next()
	}
}

// GetTenant retrieves the caller's TenantContext
func GetTenant(c *fiber.Ctx) (services.TenantContext, bool) {
	tc, ok := c.Locals(tenantContextKey).(services.TenantContext)
	return tc, ok
}
