package dunning

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultInterval is how often the worker sweeps for due attempts.
const DefaultInterval = 30 * time.Minute

// Job is one unit of periodic maintenance the worker runs each tick under
// the lease: the dunning sweep itself, plus whatever the caller registers
// (period-end expiry, usage rollover).
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Worker drives the periodic sweep. A Redis lease (SET NX with TTL equal to
// the tick interval) elects one replica per tick; the lease expires on its
// own, so a crashed holder never blocks the next tick.
type Worker struct {
	rdb      *redis.Client
	log      *slog.Logger
	interval time.Duration
	leaseKey string
	jobs     []Job
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger for sweep records.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithInterval overrides the default 30-minute tick.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLeaseKey overrides the Redis key used for replica election.
func WithLeaseKey(key string) WorkerOption {
	return func(w *Worker) {
		if key != "" {
			w.leaseKey = key
		}
	}
}

// WithJob registers an extra maintenance job to run each tick after the
// dunning sweep.
func WithJob(name string, run func(ctx context.Context) error) WorkerOption {
	return func(w *Worker) {
		if name != "" && run != nil {
			w.jobs = append(w.jobs, Job{Name: name, Run: run})
		}
	}
}

// NewWorker creates the periodic worker around a scheduler.
// Panics on nil dependencies to fail fast during initialization.
func NewWorker(rdb *redis.Client, scheduler *Scheduler, opts ...WorkerOption) *Worker {
	if rdb == nil {
		panic("dunning: redis client is required")
	}
	if scheduler == nil {
		panic("dunning: Scheduler is required")
	}
	w := &Worker{
		rdb:      rdb,
		log:      slog.Default(),
		interval: DefaultInterval,
		leaseKey: "dunning:worker:lease",
	}
	w.jobs = append(w.jobs, Job{
		Name: "process_due_attempts",
		Run: func(ctx context.Context) error {
			stats, err := scheduler.ProcessDue(ctx)
			if err != nil {
				return err
			}
			if stats.Processed > 0 {
				w.log.InfoContext(ctx, "dunning sweep finished",
					slog.Int("processed", stats.Processed),
					slog.Int("succeeded", stats.Succeeded),
					slog.Int("failed", stats.Failed))
			}
			return nil
		},
	})
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start blocks, ticking until the context is canceled. The first sweep runs
// immediately rather than one interval in.
func (w *Worker) Start(ctx context.Context) error {
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick acquires the lease and runs the jobs. Losing the election is the
// normal case with replicas and is not logged above debug.
func (w *Worker) tick(ctx context.Context) {
	acquired, err := w.rdb.SetNX(ctx, w.leaseKey, time.Now().UTC().Format(time.RFC3339), w.interval).Result()
	if err != nil {
		w.log.ErrorContext(ctx, "failed to acquire worker lease", slog.Any("error", err))
		return
	}
	if !acquired {
		w.log.DebugContext(ctx, "worker lease held elsewhere, skipping tick")
		return
	}

	for _, job := range w.jobs {
		if err := job.Run(ctx); err != nil {
			w.log.ErrorContext(ctx, "maintenance job failed",
				slog.String("job", job.Name),
				slog.Any("error", err))
		}
	}
}
