package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilchouksey/search-gateway/database"
	"github.com/sahilchouksey/search-gateway/handlers"
	apikey_handlers "github.com/sahilchouksey/search-gateway/handlers/apikey"
	collection_handlers "github.com/sahilchouksey/search-gateway/handlers/collection"
	document_handlers "github.com/sahilchouksey/search-gateway/handlers/document"
	index_handlers "github.com/sahilchouksey/search-gateway/handlers/index"
	search_handlers "github.com/sahilchouksey/search-gateway/handlers/search"
	usage_handlers "github.com/sahilchouksey/search-gateway/handlers/usage"
	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
)

// Services holds everything the routes depend on
type Services struct {
	Store          database.Storage
	APIKeys        *services.APIKeyService
	Indexing       *services.IndexingService
	Search         *services.SearchService
	Documents      *services.DocumentService
	Collections    *services.CollectionService
	Usage          *services.UsageService
	HealthChecks   map[string]handlers.Pinger
	RequestTimeout time.Duration
	// AuthGuard locks out addresses presenting unknown keys; nil disables it
	AuthGuard *middleware.BruteForceGuard
}

// SetupRoutes registers every route on app
func SetupRoutes(app *fiber.App, svc Services) {
	healthHandler := handlers.NewHealthHandler(svc.Store, svc.HealthChecks)
	indexHandler := index_handlers.NewIndexHandler(svc.Indexing)
	searchHandler := search_handlers.NewSearchHandler(svc.Search)
	documentHandler := document_handlers.NewDocumentHandler(svc.Documents)
	collectionHandler := collection_handlers.NewCollectionHandler(svc.Collections, svc.Usage)
	usageHandler := usage_handlers.NewUsageHandler(svc.Usage)
	apiKeyHandler := apikey_handlers.NewAPIKeyHandler(svc.APIKeys)

	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(svc.APIKeys, svc.RequestTimeout, svc.AuthGuard)

	// Public routes
	app.Get("/ping", healthHandler.HandlePing)
	app.Get("/health", healthHandler.HandleCheckHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Tenant API, every route authenticated by x-api-key
	api := app.Group("/api", apiKeyMiddleware.Authenticate())

	api.Post("/index", middleware.RequirePermission(model.PermissionWrite), indexHandler.Index)
	api.Get("/search", middleware.RequirePermission(model.PermissionSearch), searchHandler.Search)

	documents := api.Group("/documents")
	documents.Get("/:id", middleware.RequirePermission(model.PermissionSearch), documentHandler.GetDocument)
	documents.Delete("/:id", middleware.RequirePermission(model.PermissionWrite), documentHandler.DeleteDocument)

	collections := api.Group("/collections")
	collections.Get("/", collectionHandler.ListCollections)
	collections.Delete("/:name", middleware.RequirePermission(model.PermissionDelete), collectionHandler.DropCollection)

	api.Get("/usage", usageHandler.GetUsage)

	// Key management (admin keys only)
	keys := api.Group("/keys", middleware.RequireAdminKey())
	keys.Get("/", apiKeyHandler.ListAPIKeys)
	keys.Post("/", apiKeyHandler.CreateAPIKey)
	keys.Delete("/:id", apiKeyHandler.RevokeAPIKey)

	app.Use(func(c *fiber.Ctx) error {
		return response.NotFound(c, "Route not found")
	})
}
