package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/queue"
)

// QueueAdmin is the queue surface operators act on.
type QueueAdmin interface {
	Stats(ctx context.Context) (map[string]queue.Counts, error)
	Flush(ctx context.Context) (int64, error)
	Dead(ctx context.Context, jobType string, limit int64) ([]*queue.Job, error)
	Retry(ctx context.Context, jobType, id string) (string, error)
}

// DeadJob is a job that exhausted its attempts.
type DeadJob struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	CreatedAt time.Time       `json:"created_at"`
}

const maxDeadListing = 200

// MintRetrier re-enqueues mints that never reached the chain.
type MintRetrier interface {
	RetryStuckMints(ctx context.Context) (int, error)
}

// AdminService backs the operator endpoints and the admin CLI.
type AdminService struct {
	queue   QueueAdmin
	retrier MintRetrier
}

func NewAdminService(q QueueAdmin, r MintRetrier) *AdminService {
	return &AdminService{queue: q, retrier: r}
}

func (s *AdminService) RetryStuckMints(ctx context.Context) (int, error) {
	n, err := s.retrier.RetryStuckMints(ctx)
	if err != nil {
		return n, err
	}
	middleware.Logger.InfoContext(ctx, "stuck mints re-enqueued", slog.Int("count", n))
	return n, nil
}

// FlushQueue drops every job, including dead ones and dedupe guards.
func (s *AdminService) FlushQueue(ctx context.Context) (int64, error) {
	n, err := s.queue.Flush(ctx)
	if err != nil {
		return 0, err
	}
	middleware.Logger.WarnContext(ctx, "queue flushed", slog.Int64("keys", n))
	return n, nil
}

func (s *AdminService) QueueStats(ctx context.Context) (map[string]queue.Counts, error) {
	return s.queue.Stats(ctx)
}

// DeadJobs lists up to limit dead jobs of jobType.
func (s *AdminService) DeadJobs(ctx context.Context, jobType string, limit int) ([]DeadJob, error) {
	if jobType == "" {
		return nil, models.NewValidationError("job type is required")
	}
	if limit <= 0 || limit > maxDeadListing {
		limit = maxDeadListing
	}
	jobs, err := s.queue.Dead(ctx, jobType, int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]DeadJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, DeadJob{
			ID:        j.ID,
			Type:      j.Type,
			Payload:   j.Payload,
			Attempts:  j.AttemptsMade,
			LastError: j.LastError,
			CreatedAt: j.CreatedAt,
		})
	}
	return out, nil
}

// RetryDeadJob puts a dead job back on its queue. The returned id is the job
// that will run.
func (s *AdminService) RetryDeadJob(ctx context.Context, jobType, id string) (string, error) {
	runs, err := s.queue.Retry(ctx, jobType, id)
	if errors.Is(err, queue.ErrNotDead) {
		return "", models.NewNotFoundError("Dead job", id)
	}
	if err != nil {
		return "", err
	}
	middleware.Logger.InfoContext(ctx, "dead job requeued",
		slog.String("job_type", jobType), slog.String("job_id", id), slog.String("runs_as", runs))
	return runs, nil
}
