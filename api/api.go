package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/sahilchouksey/search-gateway/utils/response"
	"go.uber.org/zap"
)

// Config holds the HTTP server settings
type Config struct {
	ListenAddress  string
	BodyLimit      int
	AllowedOrigins string
	AccessLog      bool
	Logger         *zap.Logger
}

type APIServer struct {
	app           *fiber.App
	listenAddress string
	log           *zap.Logger
}

func NewAPIServer(cfg Config) *APIServer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "search-gateway",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return response.FromError(c, err)
		},
	})

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.AccessLog,
	})

	return &APIServer{
		app:           app,
		listenAddress: cfg.ListenAddress,
		log:           log,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

// Run blocks serving HTTP until Shutdown is called or the listener fails
func (s *APIServer) Run() error {
	s.log.Info("starting API server", zap.String("address", s.listenAddress))
	return s.app.Listen(s.listenAddress)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx is done
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.app.ShutdownWithContext(ctx)
}
