package usage

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// UsageHandler reports tenant usage
type UsageHandler struct {
	usageService *services.UsageService
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(usageService *services.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

// GetUsage handles GET /api/usage
func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	report, err := h.usageService.Report(c.UserContext(), tc)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Success(c, report)
}
