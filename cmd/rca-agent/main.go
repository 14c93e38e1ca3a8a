package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pipewatch/rca-agent/internal/api"
	"github.com/pipewatch/rca-agent/internal/cache"
	"github.com/pipewatch/rca-agent/internal/collectors"
	"github.com/pipewatch/rca-agent/internal/config"
	"github.com/pipewatch/rca-agent/internal/engine"
	"github.com/pipewatch/rca-agent/internal/knowledge"
	"github.com/pipewatch/rca-agent/internal/llm"
	"github.com/pipewatch/rca-agent/internal/metrics"
	"github.com/pipewatch/rca-agent/internal/models"
	"github.com/pipewatch/rca-agent/internal/notify"
	"github.com/pipewatch/rca-agent/internal/services"
	"github.com/pipewatch/rca-agent/internal/signatures"
	"github.com/pipewatch/rca-agent/internal/utils"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "rca-agent",
		Short:         "Root cause analysis agent for data pipeline failures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(analyzeCmd(&configPath))
	root.AddCommand(resolveCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs after wiring.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *services.RCAService
	closers []func() error
}

func (r *runtime) close() {
	for _, fn := range r.closers {
		_ = fn()
	}
}

func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	rt := &runtime{cfg: cfg, logger: logger}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			rt.closers = append(rt.closers, provider.Close)
		}
	}

	matcher, err := signatures.NewMatcher(nil)
	if err != nil {
		return nil, fmt.Errorf("compile signature catalog: %w", err)
	}

	var capability llm.Capability
	if cfg.LLM.Enabled {
		capability, err = llm.New(llm.Config{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("llm disabled, running deterministic analysis only")
	}

	scheduler := collectors.NewSchedulerCollector(
		cfg.Scheduler.BaseURL, cfg.Scheduler.Username, cfg.Scheduler.Password,
		cfg.Scheduler.Timeout, logger)

	var vcs engine.VCSCollector
	if cfg.Git.RepoPath != "" {
		vcs = collectors.NewGitCollector(cfg.Git.RepoPath, cfg.Git.LookbackHours, logger)
	}

	var health engine.HealthCollector
	if len(cfg.Sources) > 0 {
		probes := make([]collectors.SourceProbe, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			probes = append(probes, collectors.SourceProbe{
				Name:    src.Name,
				Type:    src.Type,
				URL:     src.URL,
				Timeout: src.Timeout,
			})
		}
		health = collectors.NewSourceHealthCollector(probes, logger)
	}

	var store engine.IncidentStore
	var incidentStore *knowledge.IncidentStore
	if cfg.Weaviate.Endpoint != "" {
		incidentStore = knowledge.NewIncidentStore(
			cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.Timeout,
			cacheProvider, cfg.Cache.SimilarIncidentsTTL)
		store = incidentStore
	}

	workflow := engine.NewWorkflow(
		logger,
		scheduler,
		vcs,
		health,
		nil,
		engine.NewAggregator(logger),
		engine.NewAnalyzer(matcher, capability, logger),
		store,
		engine.WithCollectorTimeout(cfg.Workflow.CollectorTimeout),
		engine.WithMaxSimilar(cfg.Workflow.MaxSimilar),
	)

	notifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Timeout, logger)

	var resolutions services.ResolutionStore
	if incidentStore != nil {
		resolutions = incidentStore
	}
	rt.service = services.NewRCAService(logger, workflow, notifier, resolutions)
	return rt, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			return serve(rt)
		},
	}
}

func serve(rt *runtime) error {
	logger := rt.logger
	cfg := rt.cfg

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	handler := api.NewHandler(logger, rt.service)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("webhook server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("webhook server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("rca-agent stopped")
	return nil
}

func analyzeCmd(configPath *string) *cobra.Command {
	var (
		pipelineID string
		taskID     string
		runID      string
		errorMsg   string
		attempt    int
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a single pipeline failure and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			event := models.FailureEvent{
				PipelineID:   pipelineID,
				TaskID:       taskID,
				RunID:        runID,
				State:        models.TaskStateFailed,
				ErrorMessage: errorMsg,
				Attempt:      attempt,
				DetectedAt:   time.Now().UTC(),
			}

			report, errStrings, err := rt.service.Analyze(cmd.Context(), event)
			for _, msg := range errStrings {
				fmt.Fprintln(os.Stderr, "warning:", msg)
			}
			if err != nil {
				return err
			}

			fmt.Println(report.Summary())
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(report)
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline (DAG) id")
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&errorMsg, "error", "", "error message from the failure callback")
	cmd.Flags().IntVar(&attempt, "attempt", 1, "task attempt number")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func resolveCmd(configPath *string) *cobra.Command {
	var resolution string

	cmd := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Record how a stored incident was resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			found, err := rt.service.Resolve(cmd.Context(), args[0], resolution)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("incident %s not found", args[0])
			}
			fmt.Println("resolution recorded for", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text")
	_ = cmd.MarkFlagRequired("resolution")

	return cmd
}
