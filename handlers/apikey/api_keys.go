package apikey

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
	"github.com/sahilchouksey/search-gateway/utils/validation"
)

// APIKeyHandler handles API key management requests
type APIKeyHandler struct {
	apiKeyService *services.APIKeyService
	validator     *validation.Validator
}

// NewAPIKeyHandler creates a new API key handler
func NewAPIKeyHandler(apiKeyService *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeyService: apiKeyService,
		validator:     validation.NewValidator(),
	}
}

// CreateAPIKey handles POST /api/keys
func (h *APIKeyHandler) CreateAPIKey(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	var req services.CreateKeyInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	req.Name = validation.SanitizeString(req.Name)

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	apiKey, err := h.apiKeyService.Create(c.UserContext(), tc.TenantID, req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "API key created successfully. Save this key securely - it will not be shown again.", apiKey)
}

// ListAPIKeys handles GET /api/keys
func (h *APIKeyHandler) ListAPIKeys(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	keys, err := h.apiKeyService.List(c.UserContext(), tc.TenantID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Success(c, keys)
}

// RevokeAPIKey handles DELETE /api/keys/:id
func (h *APIKeyHandler) RevokeAPIKey(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	keyID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid API key ID")
	}

	if err := h.apiKeyService.Revoke(c.UserContext(), tc.TenantID, uint(keyID)); err != nil {
		return response.FromError(c, err)
	}

	return response.SuccessWithMessage(c, "API key revoked successfully", nil)
}
