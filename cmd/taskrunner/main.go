package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/alert"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/catalog"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/redisclient"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lock"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/taskrunner"
	"github.com/lmittmann/tint"
)

// taskrunner is a separate deployable from cmd/scheduler: the Scheduler
// Loop only decides *when* a fire happens, this process is one of
// potentially many independent consumers of the Dispatch Queue that
// actually run task bodies, per spec.md §5's worker-pool-of-processes model.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisclient.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	metrics.Register()

	queue := dispatchqueue.New(redisClient)
	jobRuns := postgres.NewJobRunRepository(pool)
	locker := lock.New(redisClient)
	discord := alert.NewDiscordSender(logger)
	prom := alert.NewPrometheusPusher(logger)

	runner := taskrunner.New(
		queue,
		redisClient,
		jobRuns,
		locker,
		discord,
		prom,
		cfg.DiscordWebhooksByAlias(),
		logger,
	)

	registerCatalogTasks(runner, logger)

	logger.Info("task runner started")
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("task runner exited", "error", err)
	}
	logger.Info("task runner shut down")
}

// registerCatalogTasks binds a placeholder TaskFunc for every factory
// schedule's task name. Task business logic is out of scope here; this
// keeps the dispatch-to-JobRun pipeline fully exercised end to end for
// every entry the catalog seeds, and operators wire real bodies in by
// calling runner.Register with the same dotted name before Run.
func registerCatalogTasks(runner *taskrunner.Runner, logger *slog.Logger) {
	for _, tmpl := range catalog.Default {
		task := tmpl.Task
		runner.Register(task, func(ctx context.Context, args []any, kwargs map[string]any) (map[string]float64, error) {
			logger.InfoContext(ctx, "task invoked", "task", task, "kwargs", kwargs)
			return map[string]float64{}, nil
		})
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
