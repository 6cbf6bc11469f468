package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"editions/internal/middleware"
	"editions/internal/observability"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Handler runs one job attempt. A nil error completes the job.
type Handler func(ctx context.Context, job *Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job moves straight to dead.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const ttlExpired = "job TTL expired"

// Claim leases the next runnable job of jobType. It returns redis.Nil when
// nothing is runnable.
func (q *Queue) Claim(ctx context.Context, jobType string) (*Job, error) {
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(jobType), q.readyKey(jobType), q.activeKey(jobType)},
		q.now().UnixMilli(),
		q.jobKeyPrefix(),
	).Text()
	if err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

// Complete removes a finished job.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	err := completeScript.Run(ctx, q.rdb,
		[]string{q.activeKey(job.Type), q.delayedKey(job.Type), q.readyKey(job.Type), q.jobKey(job.ID)},
		job.ID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return nil
}

// Outcome of a failed attempt.
type Outcome string

const (
	OutcomeRetried Outcome = "retried"
	OutcomeDead    Outcome = "dead"
	OutcomeLost    Outcome = "lost"
)

// Fail records a failed attempt and schedules a retry or buries the job.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	return q.fail(ctx, job.Type, job.ID, cause.Error(), IsPermanent(cause))
}

func (q *Queue) fail(ctx context.Context, jobType, id, msg string, permanent bool) (Outcome, error) {
	flag := "0"
	if permanent {
		flag = "1"
	}
	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.activeKey(jobType), q.delayedKey(jobType), q.deadKey(jobType), q.jobKey(id)},
		id,
		q.now().UnixMilli(),
		msg,
		flag,
	).Int()
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", id, err)
	}
	switch res {
	case 1:
		return OutcomeDead, nil
	case 0:
		return OutcomeRetried, nil
	default:
		return OutcomeLost, nil
	}
}

// ErrNotDead is returned by Retry when the job is not in the dead set.
var ErrNotDead = errors.New("job is not dead")

// Retry moves a dead job back to ready with a fresh attempt budget. It returns
// the id of the job that will run, which differs from id when the same work
// was requested again after the job died.
func (q *Queue) Retry(ctx context.Context, jobType, id string) (string, error) {
	res, err := retryScript.Run(ctx, q.rdb,
		[]string{q.deadKey(jobType), q.readyKey(jobType), q.jobKey(id)},
		id,
		q.jobKeyPrefix(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotDead
	}
	if err != nil {
		return "", fmt.Errorf("retry job %s: %w", id, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("retry job %s: unexpected reply %v", id, res)
	}

	outcome := "requeued"
	if res[1] == "0" {
		outcome = "collapsed"
	}
	observability.JobsCreated.WithLabelValues(jobType, "retried_"+outcome).Inc()
	q.logger.InfoContext(ctx, "dead job retried",
		slog.String("job_type", jobType),
		slog.String("job_id", id),
		slog.String("runs_as", res[0]),
		slog.String("outcome", outcome),
	)
	return res[0], nil
}

// Dead lists up to limit dead jobs of jobType, oldest first.
func (q *Queue) Dead(ctx context.Context, jobType string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.ZRange(ctx, q.deadKey(jobType), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s jobs: %w", jobType, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load dead %s jobs: %w", jobType, err)
	}
	jobs := make([]*Job, 0, len(ids))
	for i, cmd := range cmds {
		if f := cmd.Val(); len(f) > 0 {
			jobs = append(jobs, parseJob(ids[i], f))
		}
	}
	return jobs, nil
}

// ReapExpired fails every active job whose lease ran out. It returns how many
// jobs were reaped.
func (q *Queue) ReapExpired(ctx context.Context, jobType string) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.activeKey(jobType), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, id := range ids {
		outcome, err := q.fail(ctx, jobType, id, ttlExpired, false)
		if err != nil {
			return reaped, err
		}
		if outcome == OutcomeLost {
			continue
		}
		reaped++
		observability.JobsProcessed.WithLabelValues(jobType, string(outcome)).Inc()
		q.logger.WarnContext(ctx, "job lease expired",
			slog.String("job_type", jobType),
			slog.String("job_id", id),
			slog.String("outcome", string(outcome)),
		)
	}
	return reaped, nil
}

// Process runs handler for jobs of jobType with the given number of workers
// until ctx is canceled. Each attempt gets a context bounded by the job TTL.
func (q *Queue) Process(ctx context.Context, jobType string, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			q.work(ctx, jobType, handler)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(q.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := q.ReapExpired(ctx, jobType); err != nil && ctx.Err() == nil {
					observability.RedisErrorRate.WithLabelValues("reap").Inc()
					q.logger.ErrorContext(ctx, "reap expired jobs", slog.String("job_type", jobType), slog.String("error", err.Error()))
				}
			}
		}
	})

	q.logger.Info("queue processor started", slog.String("job_type", jobType), slog.Int("concurrency", concurrency))
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, jobType string, handler Handler) {
	for ctx.Err() == nil {
		job, err := q.Claim(ctx, jobType)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				observability.RedisErrorRate.WithLabelValues("claim").Inc()
				q.logger.ErrorContext(ctx, "claim job", slog.String("job_type", jobType), slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.poll):
			}
			continue
		}
		q.run(ctx, job, handler)
	}
}

func (q *Queue) run(ctx context.Context, job *Job, handler Handler) {
	span, jobCtx := observability.TraceJob(ctx, job.Type, job.ID, job.AttemptsMade)
	defer span.End()
	jobCtx, cancel := context.WithTimeout(middleware.WithJob(jobCtx, job.Type, job.ID), job.TTL)
	defer cancel()

	log := q.logger.With(
		slog.String("job_type", job.Type),
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.AttemptsMade),
	)

	start := time.Now()
	err := safeCall(jobCtx, job, handler)
	observability.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	// Bookkeeping must outlive a shutdown signal that arrived mid-attempt.
	bg := context.WithoutCancel(ctx)
	if err == nil {
		if cerr := q.Complete(bg, job); cerr != nil {
			log.ErrorContext(ctx, "complete job", slog.String("error", cerr.Error()))
			return
		}
		observability.JobsProcessed.WithLabelValues(job.Type, "completed").Inc()
		log.DebugContext(ctx, "job completed", slog.Duration("duration", time.Since(start)))
		return
	}

	span.SetError(err)
	outcome, ferr := q.Fail(bg, job, err)
	if ferr != nil {
		log.ErrorContext(ctx, "record job failure", slog.String("error", ferr.Error()), slog.String("cause", err.Error()))
		return
	}
	observability.JobsProcessed.WithLabelValues(job.Type, string(outcome)).Inc()
	switch outcome {
	case OutcomeDead:
		log.ErrorContext(ctx, "job failed permanently", slog.String("error", err.Error()))
	case OutcomeRetried:
		log.WarnContext(ctx, "job failed, will retry", slog.String("error", err.Error()), slog.Duration("backoff", job.Backoff))
	}
}

func safeCall(ctx context.Context, job *Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, job)
}
