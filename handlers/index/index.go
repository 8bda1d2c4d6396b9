package index

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// IndexHandler accepts documents for asynchronous indexing
type IndexHandler struct {
	indexingService *services.IndexingService
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(indexingService *services.IndexingService) *IndexHandler {
	return &IndexHandler{indexingService: indexingService}
}

// IndexRequest is the body of POST /api/index
type IndexRequest struct {
	IndexName string          `json:"indexName"`
	Body      json.RawMessage `json:"body"`
	Action    string          `json:"action"`
}

// Index handles POST /api/index
func (h *IndexHandler) Index(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	var req IndexRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.IndexName == "" {
		req.IndexName = services.DefaultIndexName
	}

	result, err := h.indexingService.Submit(c.UserContext(), tc, services.SubmitRequest{
		IndexName: req.IndexName,
		Body:      req.Body,
		Action:    typesense.ImportAction(req.Action),
	})
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, "Documents accepted for indexing", result)
}
