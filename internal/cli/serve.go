package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fiskal-io/regstream/internal/breaker"
	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/extract"
	"github.com/fiskal-io/regstream/internal/fetch"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/lock"
	"github.com/fiskal-io/regstream/internal/metrics"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/ratelimit"
	"github.com/fiskal-io/regstream/internal/scheduler"
	"github.com/fiskal-io/regstream/internal/server"
	"github.com/fiskal-io/regstream/internal/store"
	"github.com/fiskal-io/regstream/internal/workers"
)

// evidenceLockTTL caps how long a crashed worker can hold an evidence id.
const evidenceLockTTL = 15 * time.Minute

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline workers, scheduler and HTTP surface",
	Long: `Serve starts the full pipeline process: queue workers for every
stage, the cron scheduler, the watchdog, and the operational HTTP
endpoints (/pipeline/trigger, /pipeline/status, /pipeline/metrics).

Multiple serve processes may run against the same Redis and Postgres;
the queue, the shared LLM budget and the per-evidence locks coordinate
them.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	m := metrics.New()
	breakers := breaker.NewRegistry(cfg.Breakers, logger, m)
	domains := ratelimit.NewDomainLimiter(cfg.Domains)
	locker := lock.New(rdb, evidenceLockTTL)

	basePort, err := llm.NewPort(cfg.LLM)
	if err != nil {
		return err
	}
	budget := llm.NewBudget(rdb, cfg.Budget, m)
	port := llm.NewLimitedPort(basePort, budget, breakers.Get("llm"), m)

	client := queue.NewClient(redisOpt, cfg.Queues)
	defer func() { _ = client.Close() }()
	dead := queue.NewDeadLetterStore(rdb)
	inspector := queue.NewInspector(redisOpt)
	defer func() { _ = inspector.Close() }()

	fetcher := fetch.New(cfg.Sentinel, breakers)
	classifier := classify.New(port)
	orch := extract.NewOrchestrator(classifier, st, logger,
		extract.NewClaimExtractor(st, port),
		extract.NewProcessExtractor(st, port),
		extract.NewReferenceExtractor(st, port),
		extract.NewAssetExtractor(st, port),
		extract.NewTransitionalExtractor(st, port),
	)

	sentinel := workers.NewSentinel(st, fetcher, client, cfg.Sentinel, logger)
	extractor := workers.NewExtractor(orch, st, workers.RedisLocker{L: locker}, client, domains, logger)
	composer := workers.NewComposer(st, port, client, logger)
	reviewer := workers.NewReviewer(st, port, client, logger)
	arbiter := workers.NewArbiter(st, port, client, logger)
	releaser := workers.NewReleaser(st, logger)
	sweeps := scheduler.NewSweeps(st, client, cfg, logger)

	qsrv := queue.NewServer(redisOpt, cfg.Queues, logger, m, dead)
	qsrv.RegisterHandler(queue.TypeDiscover, sentinel.Handle)
	qsrv.RegisterHandler(queue.TypeExtract, extractor.Handle)
	qsrv.RegisterHandler(queue.TypeCompose, composer.Handle)
	qsrv.RegisterHandler(queue.TypeReview, reviewer.Handle)
	qsrv.RegisterHandler(queue.TypeArbitrate, arbiter.Handle)
	qsrv.RegisterHandler(queue.TypeRelease, releaser.Handle)
	qsrv.RegisterHandler(queue.TypePipelineRun, sweeps.HandlePipelineRun)
	qsrv.RegisterHandler(queue.TypeAutoApprove, sweeps.HandleAutoApprove)
	qsrv.RegisterHandler(queue.TypeReleaseBatch, sweeps.HandleReleaseBatch)
	qsrv.RegisterHandler(queue.TypeArbiterSweep, sweeps.HandleArbiterSweep)

	if err := qsrv.Start(); err != nil {
		return err
	}
	defer qsrv.Shutdown()

	sched, err := scheduler.New(client, cfg.Schedules, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	watchdog := workers.NewWatchdog(inspector, dead, breakers, m, rdb, cfg.Schedules.WatchdogEvery, logger)
	go watchdog.Run(ctx)

	httpSrv := server.New(cfg.HTTP.Addr, client, watchdog, m, logger)
	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Start() }()

	logger.Info("regstream serving",
		"http_addr", cfg.HTTP.Addr,
		"redis", cfg.Redis.Addr,
		"llm_provider", basePort.Name(),
		"queue_concurrency", cfg.Queues.Concurrency)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queues.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}
