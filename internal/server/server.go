// Package server contains the HTTP handlers for checkout, payment webhooks and
// operator endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"editions/internal/config"
	"editions/internal/featureflags"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/queue"
	"editions/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"
)

// Claimer issues free tokens.
type Claimer interface {
	Claim(ctx context.Context, in service.ClaimInput) (*models.Token, error)
}

// Checkouts opens and cancels paid checkouts.
type Checkouts interface {
	CreatePurchase(ctx context.Context, in service.CreatePurchaseInput) (*service.Checkout, error)
	CancelCheckout(ctx context.Context, buyerID uint, intentID string) error
}

// Operator backs the admin endpoints.
type Operator interface {
	RetryStuckMints(ctx context.Context) (int, error)
	FlushQueue(ctx context.Context) (int64, error)
	QueueStats(ctx context.Context) (map[string]queue.Counts, error)
	DeadJobs(ctx context.Context, jobType string, limit int) ([]service.DeadJob, error)
	RetryDeadJob(ctx context.Context, jobType, id string) (string, error)
}

// WebhookProcessor verifies and applies payment processor events.
type WebhookProcessor interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
	Handle(ctx context.Context, event stripe.Event) error
}

// Deps are the collaborators a Server routes to. Prometheus and Flags may be nil.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Prometheus *fiberprometheus.FiberPrometheus
	Flags      *featureflags.Manager
	Claims     Claimer
	Purchases  Checkouts
	Admin      Operator
	Webhooks   WebhookProcessor
}

// Server holds all dependencies and provides handlers
type Server struct {
	Deps
	app *fiber.App
}

// NewServer builds the API server and its routes.
func NewServer(d Deps) *Server {
	s := &Server{Deps: d}
	s.app = fiber.New(fiber.Config{
		AppName:      "editions API",
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.Prometheus != nil {
		app.Use(s.Prometheus.Middleware)
	}
	app.Use(middleware.StructuredLogger())

	origins := s.Config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	registerHealth(app, s.DB, s.Redis, s.Prometheus)

	api := app.Group("/api")

	// Signed by the payment processor, not the user.
	api.Post("/webhooks/stripe", s.StripeWebhook)

	protected := api.Group("", middleware.AuthRequired)
	protected.Post("/claims",
		middleware.FeatureGate(s.Flags, featureflags.Claims),
		middleware.RateLimit(s.Redis, 10, time.Minute, "claims"),
		s.Claim)

	purchases := protected.Group("/purchases")
	purchases.Post("/",
		middleware.FeatureGate(s.Flags, featureflags.Purchases),
		middleware.RateLimitWithPolicy(s.Redis, 5, time.Minute, middleware.FailClosed, "purchases"),
		s.CreatePurchase)
	// Cancelling stays open while new checkouts are switched off.
	purchases.Post("/cancel", middleware.RateLimit(s.Redis, 10, time.Minute, "purchase_cancel"), s.CancelCheckout)

	admin := protected.Group("/admin", middleware.AdminRequired)
	admin.Post("/mints/retry", s.RetryStuckMints)
	admin.Post("/queue/flush", s.FlushQueue)
	admin.Get("/queue/stats", s.QueueStats)
	admin.Get("/queue/dead/:type", s.DeadJobs)
	admin.Post("/queue/dead/:type/:id/retry", s.RetryDeadJob)
}

// Start serves on the configured port until Shutdown.
func (s *Server) Start() error {
	middleware.Logger.Info("api server starting", slog.String("port", s.Config.Port))
	return s.app.Listen(":" + s.Config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
