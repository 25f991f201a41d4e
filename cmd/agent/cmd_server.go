package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"auditagent/internal/contracts"
	"auditagent/internal/events"
	"auditagent/internal/jobs"
	"auditagent/internal/pipeline"
	"auditagent/internal/platform/config"
	"auditagent/internal/platform/httpserver"
	"auditagent/internal/platform/logger"
	"auditagent/internal/platform/metrics"
	"auditagent/internal/report"
	"auditagent/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

var serverFlags struct {
	addr    string
	envFile string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Accept audit notifications over HTTP and post findings back",
	Long: `Starts the webhook server. POST /webhook acknowledges a task at once and
audits it in the background; findings are posted to the task's callback URL.

Configuration comes from the environment (and .env when present): OPENAI_API_KEY,
AGENT4RENA_API_KEY, WEBHOOK_SECRET, AGENT_ADDR, WORKER_COUNT, QUEUE_SIZE,
AUDIT_MODE, AUDIT_MAX_ITERATIONS, REDIS_URL, KAFKA_BROKERS and others.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&serverFlags.addr, "addr", "", "Listen address (default: $AGENT_ADDR or :8000)")
	f.StringVar(&serverFlags.envFile, "env-file", ".env", "Optional dotenv file")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(serverFlags.envFile)
	if serverFlags.addr != "" {
		cfg.Server.Addr = serverFlags.addr
	}

	log, logCloser, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	gen, err := newGenerationClient(cfg.Generation, log, m)
	if err != nil {
		return err
	}
	queue, closeQueue, err := newQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeQueue()
	publisher := newPublisher(ctx, cfg.Kafka, log)
	defer publisher.Close()

	dir := contracts.NewDirFetcher(log, m)
	fetcher := contracts.Router{
		HTTP: contracts.NewHTTPFetcher(cfg.Arena.APIKey, cfg.Arena.FetchTimeout, log, m),
		Repo: contracts.NewRepoFetcher(contracts.NewGitCloner(log), dir),
	}
	reporter := report.NewHTTPReporter(cfg.Arena.APIKey, cfg.Arena.CallbackTimeout, log, m)
	svc := pipeline.New(fetcher, newAuditor(cfg.Audit, gen, log), reporter, log, m)

	dispatcher := jobs.NewDispatcher(queue, events.Observe(svc, publisher, log),
		jobs.NewTracker(jobs.DefaultRetention), cfg.Jobs.Workers, log, m)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	webhook.New(dispatcher, log, m,
		webhook.WithSecret(cfg.Server.WebhookSecret),
		webhook.WithPublisher(publisher),
	).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting audit agent",
			"addr", cfg.Server.Addr,
			"mode", cfg.Audit.Mode,
			"workers", cfg.Jobs.Workers,
			"model", cfg.Generation.Model,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return queue.Close()
	})
	return g.Wait()
}
