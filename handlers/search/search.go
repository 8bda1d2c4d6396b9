package search

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// SearchHandler serves tenant-isolated searches
type SearchHandler struct {
	searchService *services.SearchService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchService *services.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search handles GET /api/search. The engine's hit envelope is returned unwrapped.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	params := url.Values{}
	for k, v := range c.Queries() {
		params.Set(k, v)
	}
	if params.Get("collection_name") == "" {
		params.Set("collection_name", services.DefaultIndexName)
	}

	result, err := h.searchService.Search(c.UserContext(), tc, params)
	if err != nil {
		return response.FromError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
