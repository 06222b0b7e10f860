package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/metrics"
)

// Handler processes one job.
type Handler func(ctx context.Context, task *asynq.Task) error

// DeadLetterRecorder records a job's terminal failure. Implemented by
// *DeadLetterStore.
type DeadLetterRecorder interface {
	Record(ctx context.Context, dl DeadLetter) error
}

// Server runs the queue workers. Internally it is three asynq servers:
// one for discover (concurrency 1), one for release (concurrency 1) and one
// for everything else, all dispatching through a shared mux.
type Server struct {
	cfg      config.QueuesConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	dead     DeadLetterRecorder
	mux      *asynq.ServeMux
	servers  []*asynq.Server
	limiters map[string]*rate.Limiter
	started  bool

	// Attempt metadata lookups, swappable in tests. asynq only populates
	// them inside a running server's task context.
	retryCount func(ctx context.Context) (int, bool)
	maxRetry   func(ctx context.Context) (int, bool)
}

// NewServer builds the worker runtime. Handlers are registered before Start.
func NewServer(redisOpt asynq.RedisClientOpt, cfg config.QueuesConfig, logger *slog.Logger, m *metrics.Metrics, dead DeadLetterRecorder) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		dead:       dead,
		mux:        asynq.NewServeMux(),
		limiters:   make(map[string]*rate.Limiter),
		retryCount: asynq.GetRetryCount,
		maxRetry:   asynq.GetMaxRetry,
	}
	for queueName, perSecond := range cfg.RatePerSecond {
		if perSecond > 0 {
			s.limiters[queueName] = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
	s.mux.Use(s.instrument)

	base := func(concurrency int, queues map[string]int) *asynq.Server {
		return asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:     concurrency,
			Queues:          queues,
			RetryDelayFunc:  s.retryDelay,
			Logger:          &slogAdapter{logger: logger},
			ShutdownTimeout: cfg.ShutdownTimeout,
		})
	}
	s.servers = []*asynq.Server{
		// Sentinel runs must not interleave: duplicate discovery otherwise.
		base(1, map[string]int{QueueDiscover: 1}),
		// Releases must not interleave: the release sequence is auditable.
		base(1, map[string]int{QueueRelease: 1}),
		base(cfg.Concurrency, map[string]int{
			QueueExtract:   3,
			QueueCompose:   2,
			QueueReview:    2,
			QueueArbiter:   1,
			QueueScheduled: 1,
		}),
	}
	return s
}

// RegisterHandler binds a job type to its handler.
func (s *Server) RegisterHandler(jobType string, h Handler) {
	s.mux.HandleFunc(jobType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t)
	})
}

// Start begins processing. It does not block.
func (s *Server) Start() error {
	for _, srv := range s.servers {
		if err := srv.Start(s.mux); err != nil {
			return fmt.Errorf("queue: start server: %w", err)
		}
	}
	s.started = true
	return nil
}

// Shutdown stops accepting new jobs, drains in-flight ones within the
// configured timeout, then releases the Redis connections.
func (s *Server) Shutdown() {
	if !s.started {
		return
	}
	for _, srv := range s.servers {
		srv.Shutdown()
	}
	s.started = false
	s.logger.Info("queue server stopped")
}

// retryDelay doubles the base delay per attempt.
func (s *Server) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
	}
	return d
}

// instrument wraps every handler with the per-queue limiter, timing,
// logging, metrics and dead-letter recording on the final failed attempt.
func (s *Server) instrument(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		queueName, _ := asynq.GetQueueName(ctx)
		taskID, _ := asynq.GetTaskID(ctx)
		worker := WorkerFor(t.Type())

		if lim, ok := s.limiters[queueName]; ok {
			if !lim.Allow() {
				if s.metrics != nil {
					s.metrics.RateLimitHits.WithLabelValues("queue_" + queueName).Inc()
				}
				if err := lim.Wait(ctx); err != nil {
					return err
				}
			}
		}

		s.logger.Info("job start", "worker", worker, "queue", queueName, "job_id", taskID, "type", t.Type())
		start := time.Now()
		err := next.ProcessTask(ctx, t)
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.JobDuration.WithLabelValues(worker, queueName).Observe(elapsed.Seconds())
		}

		if err == nil {
			if s.metrics != nil {
				s.metrics.JobsTotal.WithLabelValues(worker, queueName, "ok").Inc()
			}
			s.logger.Info("job done", "worker", worker, "queue", queueName, "job_id", taskID, "duration", elapsed)
			return nil
		}

		if s.metrics != nil {
			s.metrics.JobsTotal.WithLabelValues(worker, queueName, "failed").Inc()
		}
		s.logger.Warn("job failed", "worker", worker, "queue", queueName, "job_id", taskID,
			"duration", elapsed, "error", err)

		if s.isFinalAttempt(ctx, err) {
			dl := DeadLetter{
				Queue:    queueName,
				JobID:    taskID,
				JobType:  t.Type(),
				Payload:  t.Payload(),
				Error:    err.Error(),
				FailedAt: time.Now().UTC(),
			}
			if recErr := s.dead.Record(context.WithoutCancel(ctx), dl); recErr != nil {
				s.logger.Error("dead-letter record failed", "job_id", taskID, "error", recErr)
			} else {
				s.logger.Error("job dead-lettered", "worker", worker, "queue", queueName,
					"job_id", taskID, "error", err)
			}
		}
		return err
	})
}

// isFinalAttempt reports whether this failure exhausts the job's attempts.
func (s *Server) isFinalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := s.retryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := s.maxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}

// WorkerFor names the worker responsible for a job type, for logs/metrics.
func WorkerFor(jobType string) string {
	switch jobType {
	case TypeDiscover:
		return "sentinel"
	case TypeExtract:
		return "extractor"
	case TypeCompose:
		return "composer"
	case TypeReview:
		return "reviewer"
	case TypeArbitrate:
		return "arbiter"
	case TypeRelease:
		return "releaser"
	case TypePipelineRun, TypeAutoApprove, TypeReleaseBatch, TypeArbiterSweep:
		return "orchestrator"
	default:
		return "unknown"
	}
}

// slogAdapter bridges asynq's logger interface onto slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a *slogAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
