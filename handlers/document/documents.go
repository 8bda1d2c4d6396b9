package document

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// DocumentHandler handles single document requests
type DocumentHandler struct {
	documentService *services.DocumentService
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(documentService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

func indexName(c *fiber.Ctx) string {
	if name := c.Query("indexName"); name != "" {
		return name
	}
	if name := c.Query("collection_name"); name != "" {
		return name
	}
	return services.DefaultIndexName
}

// GetDocument handles GET /api/documents/:id?indexName=
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	doc, err := h.documentService.Get(c.UserContext(), tc, indexName(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Success(c, doc)
}

// DeleteDocument handles DELETE /api/documents/:id?indexName=
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	if err := h.documentService.Delete(c.UserContext(), tc, indexName(c), c.Params("id")); err != nil {
		return response.FromError(c, err)
	}

	return response.SuccessWithMessage(c, "Document deleted", fiber.Map{"id": c.Params("id")})
}
