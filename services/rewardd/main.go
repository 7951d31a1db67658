package rewardd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"capsupply/config"
	"capsupply/core"
	"capsupply/core/events"
	"capsupply/core/state"
	"capsupply/observability/logging"
	telemetry "capsupply/observability/otel"
	"capsupply/services/rewardd/audit"
)

// Main initialises and runs the reward daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/rewardd/config.yaml", "path to rewardd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("CAPSUPPLY_ENV"))
	}

	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	logger, logCloser := logging.Setup("rewardd", env, logOpts)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "rewardd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	return run(cfg, logger)
}

func run(cfg Config, logger *slog.Logger) error {
	paramsFile, err := config.Load(cfg.ParamsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	params, err := paramsFile.Params()
	if err != nil {
		return fmt.Errorf("validate params: %w", err)
	}

	var emitter events.Emitter = events.NoopEmitter{}
	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		db, err := audit.Open(cfg.Audit.DSN)
		if err != nil {
			return err
		}
		if auditStore, err = audit.New(db, logger.With("component", "audit")); err != nil {
			return err
		}
		emitter = auditStore
	}

	engine, err := core.NewEngine(params, core.WithEmitter(emitter), core.WithLogger(logger.With("component", "engine")))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	db, err := OpenDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()
	manager := state.NewManager(db)
	restored, err := engine.Load(manager)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	stats := engine.SupplyStats()
	logger.Info("engine ready",
		"backend", cfg.Storage.Backend,
		"restored", restored,
		"circulating", stats.Circulating.String(),
		"headroom", stats.Headroom.String(),
		"streams", strings.Join(engine.Streams(), ","),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		logging.MaskField("audit_dsn", cfg.Audit.DSN))

	server, err := NewServer(ServerConfig{
		Engine:    engine,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Audit:     auditStore,
		Logger:    logger.With("component", "http"),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "rewardd"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshotter := NewSnapshotter(engine, manager, cfg.SnapshotInterval.Duration, logger)
	snapshotCtx, stopSnapshots := context.WithCancel(context.Background())
	defer stopSnapshots()
	snapshotDone := make(chan error, 1)
	go func() { snapshotDone <- snapshotter.Run(snapshotCtx) }()

	errs := make(chan error, 1)
	go func() {
		logger.Info("rewardd listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-stopCtx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}
	// The final save runs once no handler can mutate the engine.
	stopSnapshots()
	if err := <-snapshotDone; err != nil {
		logger.Error("final snapshot failed", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	} else {
		logger.Info("state saved on shutdown")
	}
	return serveErr
}
