package server

import (
	"github.com/gofiber/fiber/v2"
)

// RetryStuckMints handles POST /api/admin/mints/retry.
func (s *Server) RetryStuckMints(c *fiber.Ctx) error {
	n, err := s.Admin.RetryStuckMints(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"enqueued": n})
}

// FlushQueue handles POST /api/admin/queue/flush.
func (s *Server) FlushQueue(c *fiber.Ctx) error {
	n, err := s.Admin.FlushQueue(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted_keys": n})
}

// QueueStats handles GET /api/admin/queue/stats.
func (s *Server) QueueStats(c *fiber.Ctx) error {
	stats, err := s.Admin.QueueStats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// DeadJobs handles GET /api/admin/queue/dead/:type?limit=.
func (s *Server) DeadJobs(c *fiber.Ctx) error {
	jobs, err := s.Admin.DeadJobs(c.UserContext(), c.Params("type"), c.QueryInt("limit"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// RetryDeadJob handles POST /api/admin/queue/dead/:type/:id/retry.
func (s *Server) RetryDeadJob(c *fiber.Ctx) error {
	runs, err := s.Admin.RetryDeadJob(c.UserContext(), c.Params("type"), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"job_id": runs})
}
