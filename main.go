package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tasklane/orchestrator/internal/agents"
	"github.com/tasklane/orchestrator/internal/analysis"
	"github.com/tasklane/orchestrator/internal/auth"
	"github.com/tasklane/orchestrator/internal/browsercloud"
	"github.com/tasklane/orchestrator/internal/callmeta"
	"github.com/tasklane/orchestrator/internal/config"
	"github.com/tasklane/orchestrator/internal/db"
	"github.com/tasklane/orchestrator/internal/health"
	"github.com/tasklane/orchestrator/internal/httpapi"
	"github.com/tasklane/orchestrator/internal/orchestration"
	"github.com/tasklane/orchestrator/internal/runner"
	"github.com/tasklane/orchestrator/internal/streaming"
	"github.com/tasklane/orchestrator/internal/tracing"
	"github.com/tasklane/orchestrator/internal/voicecall"
	"github.com/tasklane/orchestrator/internal/websearch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Orchestrator exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	// Items store
	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		IdleConnections: cfg.Postgres.IdleConnections,
		MaxLifetime:     cfg.Postgres.MaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect items store: %w", err)
	}
	defer dbClient.Close()
	items := db.NewItemStore(dbClient.DB(), logger)

	// Call metadata store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect call-metadata store: %w", err)
	}
	calls := callmeta.New(redisClient, cfg.Voice.MappingTTL, logger)

	// Task analysis
	rules := analysis.DefaultRules()
	if cfg.Analysis.RulesPath != "" {
		loaded, err := analysis.LoadRules(cfg.Analysis.RulesPath)
		if err != nil {
			return fmt.Errorf("load analysis rules: %w", err)
		}
		rules = loaded
	}
	analyzer, err := analysis.NewAnalyzer(rules, logger)
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}
	if cfg.Analysis.Watch && cfg.Analysis.RulesPath != "" {
		go func() {
			if err := analyzer.Watch(ctx, cfg.Analysis.RulesPath); err != nil {
				logger.Error("Rule watcher stopped", zap.Error(err))
			}
		}()
	}

	// Capability clients and agents
	searchClient := websearch.New(logger)
	browserClient := browsercloud.New(browsercloud.Config{
		BaseURL:        cfg.Browser.BaseURL,
		APIKey:         cfg.Browser.APIKey,
		Timeout:        cfg.Browser.Timeout,
		RequestsPerSec: cfg.Browser.RequestsPerSec,
	}, logger)
	voiceClient := voicecall.New(voicecall.Config{
		BaseURL:        cfg.Voice.BaseURL,
		Token:          cfg.Voice.Token,
		AssistantID:    cfg.Voice.AssistantID,
		PhoneNumberID:  cfg.Voice.PhoneNumberID,
		Timeout:        cfg.Voice.Timeout,
		RequestsPerSec: cfg.Voice.RequestsPerSec,
	}, logger)

	streams := streaming.NewManager(cfg.Streaming.RingCapacity)

	supervisor := orchestration.NewSupervisor(
		analyzer,
		[]orchestration.Agent{
			agents.NewSearchAgent(searchClient, logger),
			agents.NewBrowserAgent(browserClient, logger),
			agents.NewVoiceAgent(voiceClient, calls, logger),
		},
		orchestration.Config{
			ConfidenceThreshold: cfg.Orchestration.ConfidenceThreshold,
			MonitorMaxPolls:     cfg.Orchestration.MonitorMaxPolls,
			MonitorInterval:     cfg.Orchestration.MonitorInterval,
			DispatchTimeout:     cfg.Orchestration.DispatchTimeout,
		},
		logger,
		streams,
	)

	// Background worker pool
	pool := runner.New(supervisor, items, runner.Config{
		Workers:   cfg.Runner.Workers,
		QueueSize: cfg.Runner.QueueSize,
		BatchSize: cfg.Runner.BatchSize,
	}, logger)
	pool.Start(ctx)
	defer pool.Stop()
	go pool.Poll(ctx, cfg.Runner.PollInterval)

	// API surface
	apiMux := http.NewServeMux()
	httpapi.NewServer(analyzer, items, pool, calls, logger).RegisterRoutes(apiMux)
	httpapi.NewStreamingHandler(streams, logger).RegisterRoutes(apiMux)

	var apiHandler http.Handler = apiMux
	if cfg.Auth.Enabled {
		jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, 30*time.Minute)
		apiHandler = auth.NewMiddleware(jwtManager, cfg.Auth.SkipAuth).HTTPMiddleware(apiHandler)
	}
	apiHandler = httpapi.MetricsMiddleware(apiHandler)

	// WriteTimeout stays zero: the mux serves SSE and WebSocket streams
	// that outlive any fixed response deadline.
	apiServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:     apiHandler,
		ReadTimeout: cfg.Service.ReadTimeout,
	}

	// Admin surface: health probes and metrics
	healthMgr := health.NewManager(logger)
	healthMgr.Register(health.NewPostgresChecker(dbClient))
	healthMgr.Register(health.NewRedisChecker(redisClient))

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /healthz", healthMgr.LivenessHandler())
	adminMux.HandleFunc("GET /readyz", healthMgr.ReadinessHandler())
	adminMux.Handle("GET /metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	cancel()
	return nil
}

// newLogger builds the zap logger per configuration.
func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if lc.Production {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if lc.Format == "console" {
		zc.Encoding = "console"
	}
	return zc.Build()
}
