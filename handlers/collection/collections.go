package collection

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// CollectionHandler lists and drops tenant collections
type CollectionHandler struct {
	collectionService *services.CollectionService
	usageService      *services.UsageService
}

// NewCollectionHandler creates a new collection handler
func NewCollectionHandler(collectionService *services.CollectionService, usageService *services.UsageService) *CollectionHandler {
	return &CollectionHandler{
		collectionService: collectionService,
		usageService:      usageService,
	}
}

// ListCollections handles GET /api/collections
func (h *CollectionHandler) ListCollections(c *fiber.Ctx) error {
	start := time.Now()
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	collections, err := h.collectionService.List(c.UserContext(), tc.TenantID)
	if err != nil {
		return response.FromError(c, err)
	}

	h.usageService.LogFor(c.UserContext(), tc, model.UsageLog{
		Operation:          model.OperationList,
		Status:             model.UsageStatusSuccess,
		DocumentsProcessed: len(collections),
		ProcessingTimeMs:   time.Since(start).Milliseconds(),
	})

	return response.Success(c, collections)
}

// DropCollection handles DELETE /api/collections/:name
func (h *CollectionHandler) DropCollection(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	if err := h.collectionService.Drop(c.UserContext(), tc, c.Params("name")); err != nil {
		return response.FromError(c, err)
	}

	return response.SuccessWithMessage(c, "Collection deleted", nil)
}
