package server

import (
	"context"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type health struct {
	db  *gorm.DB
	rdb *redis.Client
}

func registerHealth(app *fiber.App, db *gorm.DB, rdb *redis.Client, prom *fiberprometheus.FiberPrometheus) {
	h := health{db: db, rdb: rdb}
	app.Get("/health/live", h.liveness)
	app.Get("/health/ready", h.readiness)
	app.Get("/health", h.readiness)
	if prom != nil {
		prom.RegisterAt(app, "/metrics")
	}
}

// NewOpsApp is the worker's HTTP surface: health probes and metrics only.
func NewOpsApp(db *gorm.DB, rdb *redis.Client, prom *fiberprometheus.FiberPrometheus) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "editions worker", DisableStartupMessage: true})
	app.Use(recover.New())
	registerHealth(app, db, rdb, prom)
	return app
}

func (h health) liveness(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// readiness requires both the database and Redis; the queue lives in Redis.
func (h health) readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if h.db == nil {
		dbStatus = "unavailable"
	} else if sqlDB, err := h.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if h.rdb == nil {
		redisStatus = "unavailable"
	} else if err := h.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}
