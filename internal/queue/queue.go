// Package queue is a durable at-least-once job queue on Redis.
//
// Jobs live in a hash per job and move between per-type sorted sets:
// delayed (score = due time), ready (score = priority, FIFO within a
// priority), active (score = lease expiry) and dead. Every move is done by
// a Lua script so a job is never in two sets at once.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"editions/internal/middleware"
	"editions/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Priority orders ready jobs; lower values run first.
type Priority int

const (
	PriorityCritical Priority = -15
	PriorityHigh     Priority = -10
	PriorityNormal   Priority = 0
	PriorityLow      Priority = 10
)

const (
	DefaultAttempts = 1
	DefaultBackoff  = 5 * time.Second
	DefaultTTL      = 5 * time.Minute
)

// Options are the retry settings for one job type.
type Options struct {
	Attempts int
	Backoff  time.Duration
	TTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Keyed is implemented by payloads that identify one logical unit of work.
// Creating a second job with the same type and key while the first is still
// queued returns the first job's id.
type Keyed interface {
	IdempotencyKey() string
}

// Job is one unit of deferred work as stored in Redis.
type Job struct {
	ID           string
	Type         string
	Payload      json.RawMessage
	Priority     Priority
	Attempts     int
	AttemptsMade int
	Backoff      time.Duration
	TTL          time.Duration
	DedupeKey    string
	CreatedAt    time.Time
	LastError    string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Config configures a Queue.
type Config struct {
	Prefix       string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Queue is the Redis-backed job store. It is safe for concurrent use.
type Queue struct {
	rdb    *redis.Client
	prefix string
	poll   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	types map[string]Options
}

// New creates a Queue on rdb.
func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = "q"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = middleware.Logger
	}
	return &Queue{
		rdb:    rdb,
		prefix: cfg.Prefix,
		poll:   cfg.PollInterval,
		logger: cfg.Logger,
		now:    time.Now,
		types:  make(map[string]Options),
	}
}

// Define registers the retry settings for jobType. Jobs of an undefined type
// get one attempt with the default backoff and TTL.
func (q *Queue) Define(jobType string, opts Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.types[jobType] = opts.withDefaults()
}

func (q *Queue) options(jobType string) Options {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if o, ok := q.types[jobType]; ok {
		return o
	}
	return Options{}.withDefaults()
}

// Types lists the defined job types.
func (q *Queue) Types() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.types))
	for t := range q.types {
		out = append(out, t)
	}
	return out
}

func (q *Queue) jobKey(id string) string {
	return q.prefix + ":job:" + id
}

func (q *Queue) jobKeyPrefix() string {
	return q.prefix + ":job:"
}

func (q *Queue) readyKey(jobType string) string {
	return q.prefix + ":" + jobType + ":ready"
}

func (q *Queue) delayedKey(jobType string) string {
	return q.prefix + ":" + jobType + ":delayed"
}

func (q *Queue) activeKey(jobType string) string {
	return q.prefix + ":" + jobType + ":active"
}

func (q *Queue) deadKey(jobType string) string {
	return q.prefix + ":" + jobType + ":dead"
}

// DedupeKey returns the Redis key guarding a logical unit of work.
func (q *Queue) DedupeKey(jobType, logicalKey string) string {
	sum := sha256.Sum256([]byte(jobType + "\x00" + logicalKey))
	return q.prefix + ":dedupe:" + hex.EncodeToString(sum[:])
}

// Create persists a job and returns its id. Create returns as soon as the job
// is stored; the result of the work is never reported back to the caller.
func (q *Queue) Create(ctx context.Context, jobType string, priority Priority, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	dedupe := ""
	if k, ok := payload.(Keyed); ok && k.IdempotencyKey() != "" {
		dedupe = q.DedupeKey(jobType, k.IdempotencyKey())
	}

	seq, err := q.rdb.Incr(ctx, q.prefix+":seq").Result()
	if err != nil {
		return "", fmt.Errorf("allocate job id: %w", err)
	}
	id := fmt.Sprintf("%020d", seq)
	opts := q.options(jobType)

	res, err := createScript.Run(ctx, q.rdb,
		[]string{dedupe, q.jobKey(id), q.readyKey(jobType)},
		id,
		q.jobKeyPrefix(),
		jobType,
		string(body),
		int(priority),
		opts.Attempts,
		opts.Backoff.Milliseconds(),
		opts.TTL.Milliseconds(),
		q.now().UnixMilli(),
	).StringSlice()
	if err != nil {
		return "", fmt.Errorf("create %s job: %w", jobType, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("create %s job: unexpected reply %v", jobType, res)
	}

	if res[1] == "0" {
		observability.JobsCreated.WithLabelValues(jobType, "collapsed").Inc()
		q.logger.DebugContext(ctx, "job collapsed into existing job",
			slog.String("job_type", jobType),
			slog.String("job_id", res[0]),
		)
	} else {
		observability.JobsCreated.WithLabelValues(jobType, "created").Inc()
	}
	return res[0], nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	return parseJob(id, fields), nil
}

func parseJob(id string, f map[string]string) *Job {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	ms := func(k string) time.Duration {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return time.Duration(n) * time.Millisecond
	}
	created, _ := strconv.ParseInt(f["created_at"], 10, 64)
	return &Job{
		ID:           id,
		Type:         f["type"],
		Payload:      json.RawMessage(f["payload"]),
		Priority:     Priority(atoi("priority")),
		Attempts:     atoi("attempts"),
		AttemptsMade: atoi("attempts_made"),
		Backoff:      ms("backoff_ms"),
		TTL:          ms("ttl_ms"),
		DedupeKey:    f["dedupe"],
		CreatedAt:    time.UnixMilli(created),
		LastError:    f["last_error"],
	}
}

// Counts is the number of jobs of one type in each state.
type Counts struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
}

// Stats reports per-type counts for every defined job type.
func (q *Queue) Stats(ctx context.Context) (map[string]Counts, error) {
	types := q.Types()
	pipe := q.rdb.Pipeline()
	cmds := make(map[string][4]*redis.IntCmd, len(types))
	for _, t := range types {
		cmds[t] = [4]*redis.IntCmd{
			pipe.ZCard(ctx, q.readyKey(t)),
			pipe.ZCard(ctx, q.delayedKey(t)),
			pipe.ZCard(ctx, q.activeKey(t)),
			pipe.ZCard(ctx, q.deadKey(t)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	out := make(map[string]Counts, len(types))
	for t, c := range cmds {
		out[t] = Counts{Ready: c[0].Val(), Delayed: c[1].Val(), Active: c[2].Val(), Dead: c[3].Val()}
	}
	return out, nil
}

// Flush deletes every key under the queue prefix, including dead jobs and
// dedupe guards. It returns the number of keys removed.
func (q *Queue) Flush(ctx context.Context) (int64, error) {
	var removed int64
	iter := q.rdb.Scan(ctx, 0, q.prefix+":*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := q.rdb.Del(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("flush queue: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan queue keys: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("flush queue: %w", err)
	}
	q.logger.WarnContext(ctx, "queue flushed", slog.String("prefix", q.prefix), slog.Int64("keys", removed))
	return removed, nil
}
